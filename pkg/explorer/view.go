package explorer

import (
	"github.com/sanonone/cigraph/pkg/filter"
	"github.com/sanonone/cigraph/pkg/geometry"
	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/viewport"
)

// View is a render snapshot of a session. It shares nothing mutable with the
// session and can be encoded after the lock is released.
type View struct {
	SessionID string `json:"session_id"`
	RootID    int    `json:"root_id"`
	RootUID   string `json:"root_uid,omitempty"`

	// Nodes are the visible instances that survived culling.
	Nodes []graph.NodeInstance    `json:"nodes"`
	Edges []geometry.EdgeGeometry `json:"edges"`

	Total   int `json:"total"`
	Visible int `json:"visible"`
	Culled  int `json:"culled"`

	Criteria filter.Criteria    `json:"criteria"`
	Query    graph.QueryFilters `json:"query"`
	Stats    filter.Stats       `json:"filter_stats"`

	Viewport viewport.State   `json:"viewport"`
	Minimap  viewport.Minimap `json:"minimap"`

	Types     map[string]graph.TypeStyle `json:"types"`
	Expanded  []int                      `json:"expanded_ids"`
	Loading   []string                   `json:"loading,omitempty"`
	Pending   []string                   `json:"pending_collapse,omitempty"`
	Animating bool                       `json:"animating"`
}

// Node returns the snapshot of uid, if it is in the view.
func (v *View) Node(uid string) (graph.NodeInstance, bool) {
	for _, n := range v.Nodes {
		if n.UID == uid {
			return n, true
		}
	}
	return graph.NodeInstance{}, false
}

func (s *Session) snapshotLocked() *View {
	visible := s.visible.Nodes
	culled := s.view.Cull(visible)
	size := s.view.Config().NodeSize

	v := &View{
		SessionID: s.id,
		RootID:    s.rootID,
		Total:     len(s.graph.Nodes),
		Visible:   len(visible),
		Culled:    len(visible) - len(culled),
		Criteria:  s.criteria,
		Query:     s.query,
		Stats:     s.visible.Stats,
		Viewport:  s.view.State(),
		Minimap:   s.view.Minimap(visible),
		Types:     s.registry.Styles(),
		Expanded:  s.store.ExpandedIDs(),
		Animating: s.layout.Animator().Active() > 0 || s.view.State().Animating,
	}
	if root := s.graph.Root(); root != nil {
		v.RootUID = root.UID
	}

	v.Nodes = make([]graph.NodeInstance, 0, len(culled))
	for _, n := range culled {
		cp := *n
		if n.Target != nil {
			t := *n.Target
			cp.Target = &t
		}
		v.Nodes = append(v.Nodes, cp)
	}
	v.Edges = geometry.Render(culled, s.visible.Connections, size)

	for _, n := range s.graph.Nodes {
		if n.Loading {
			v.Loading = append(v.Loading, n.UID)
		}
		if s.pending[n.UID] {
			v.Pending = append(v.Pending, n.UID)
		}
	}
	return v
}
