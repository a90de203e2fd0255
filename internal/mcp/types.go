package mcp

// --- Tool Arguments ---

type OpenGraphArgs struct {
	RootID      int   `json:"root_id" jsonschema:"The CMDB id of the configuration item to center the graph on"`
	TypeIDs     []int `json:"type_ids,omitempty" jsonschema:"Only load CIs of these type ids"`
	RelationIDs []int `json:"relation_ids,omitempty" jsonschema:"Only follow relations of these ids"`
}

type InstanceArgs struct {
	SessionID string `json:"session_id" jsonschema:"The session returned by open_ci_graph"`
	UID       string `json:"uid,omitempty" jsonschema:"The node instance uid. Takes precedence over ci_id"`
	CIID      int    `json:"ci_id,omitempty" jsonschema:"A CMDB id; the instance closest to the root is used"`
}

type FilterArgs struct {
	SessionID     string   `json:"session_id" jsonschema:"The session returned by open_ci_graph"`
	Search        string   `json:"search,omitempty" jsonschema:"Case-insensitive text matched against labels, types, ids and fields"`
	Types         []string `json:"types,omitempty" jsonschema:"Type labels that must be reachable from the root"`
	Mode          string   `json:"mode,omitempty" jsonschema:"OR (any type) or AND (one path through every type)"`
	ConnectedOnly bool     `json:"connected_only,omitempty" jsonschema:"Keep only nodes connected to selected_uid"`
	SelectedUID   string   `json:"selected_uid,omitempty"`
}

type DescribeArgs struct {
	SessionID string `json:"session_id" jsonschema:"The session returned by open_ci_graph"`
}

// --- Tool Results ---

type NodeSummary struct {
	UID      string `json:"uid"`
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Level    int    `json:"level"`
	Expanded bool   `json:"expanded,omitempty"`
	Loading  bool   `json:"loading,omitempty"`
	Root     bool   `json:"root,omitempty"`
}

type EdgeSummary struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation,omitempty"`
}

type GraphSummary struct {
	SessionID string        `json:"session_id"`
	RootID    int           `json:"root_id"`
	Total     int           `json:"total"`
	Visible   int           `json:"visible"`
	Nodes     []NodeSummary `json:"nodes"`
	Edges     []EdgeSummary `json:"edges"`
}
