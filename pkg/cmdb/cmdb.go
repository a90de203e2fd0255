// Package cmdb defines the wire model exchanged with the external CMDB backend.
//
// The explorer never owns CI or relation data: it receives nodes and edges
// from three query operations (load with root, expand child, expand parent)
// and keeps them only as long as a session shows them.
package cmdb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Direction tags recorded by the backend on every returned node.
const (
	DirectionRoot   = "root"
	DirectionChild  = "child"
	DirectionParent = "parent"
)

// TypeInfo describes the CI type of a node.
type TypeInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name,omitempty"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

// Field is one name/value pair of a CI.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// LinkedObject is the CI payload attached to a graph node.
type LinkedObject struct {
	PublicID int     `json:"public_id"`
	Active   bool    `json:"active"`
	Fields   []Field `json:"fields,omitempty"`
}

// Node is a raw CI as delivered by the backend.
type Node struct {
	ID        int          `json:"id"`
	Label     string       `json:"label,omitempty"`
	Direction string       `json:"direction,omitempty"`
	Level     int          `json:"level"`
	Type      TypeInfo     `json:"type"`
	Object    LinkedObject `json:"object"`
}

// DisplayLabel returns the node label, falling back to "<type> #<id>".
func (n Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	typeLabel := n.Type.Label
	if typeLabel == "" {
		typeLabel = n.Type.Name
	}
	if typeLabel == "" {
		typeLabel = "CI"
	}
	return fmt.Sprintf("%s #%d", typeLabel, n.ID)
}

// TypeLabel returns the label used for type filtering.
func (n Node) TypeLabel() string {
	if n.Type.Label != "" {
		return n.Type.Label
	}
	return n.Type.Name
}

// Relation carries the metadata of a relationship type.
type Relation struct {
	ID    int    `json:"id"`
	Name  string `json:"name,omitempty"`
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Edge is a raw relationship between two CIs, identified by CI id.
type Edge struct {
	From     int      `json:"from"`
	To       int      `json:"to"`
	Relation Relation `json:"relation"`
	Strength float64  `json:"strength,omitempty"`
	DataFlow bool     `json:"data_flow,omitempty"`
}

// UnmarshalJSON accepts the relation either as an object or as an array
// holding one object.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var wire struct {
		From     int             `json:"from"`
		To       int             `json:"to"`
		Relation json.RawMessage `json:"relation"`
		Strength float64         `json:"strength,omitempty"`
		DataFlow bool            `json:"data_flow,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	rel, err := decodeRelation(wire.Relation)
	if err != nil {
		return fmt.Errorf("edge %d->%d: %w", wire.From, wire.To, err)
	}

	*e = Edge{
		From:     wire.From,
		To:       wire.To,
		Relation: rel,
		Strength: wire.Strength,
		DataFlow: wire.DataFlow,
	}
	return nil
}

func decodeRelation(raw json.RawMessage) (Relation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Relation{}, nil
	}

	if raw[0] == '[' {
		var list []Relation
		if err := json.Unmarshal(raw, &list); err != nil {
			return Relation{}, fmt.Errorf("invalid relation list: %w", err)
		}
		if len(list) == 0 {
			return Relation{}, nil
		}
		return list[0], nil
	}

	var rel Relation
	if err := json.Unmarshal(raw, &rel); err != nil {
		return Relation{}, fmt.Errorf("invalid relation: %w", err)
	}
	return rel, nil
}

// GraphResponse is the payload returned by every query operation.
type GraphResponse struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FilterProfile is a named, persisted set of type and relation filters.
type FilterProfile struct {
	PublicID        int    `json:"public_id,omitempty"`
	Name            string `json:"name" validate:"required"`
	TypesFilter     []int  `json:"types_filter"`
	RelationsFilter []int  `json:"relations_filter"`
}
