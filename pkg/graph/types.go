// Package graph holds the in-memory model of the CI relationship explorer:
// node instances, connections, the connection tracker, the data store and
// the expansion engine.
//
// A CI keeps its persistent integer id, but every appearance in the explorer
// is a separate NodeInstance with its own UID. Connections always reference
// UIDs, never bare CI ids, because position and expansion state are
// per-instance.
package graph

import (
	"errors"
	"fmt"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

var (
	// ErrUnknownInstance is returned when a UID is not registered in the store.
	ErrUnknownInstance = errors.New("unknown node instance")
	// ErrAlreadyLoading is returned when an expansion is requested for an
	// instance that is still waiting for its previous fetch.
	ErrAlreadyLoading = errors.New("node instance is already loading")
)

// Point is a 2D coordinate in graph space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeInstance is one rendered occurrence of a CI.
type NodeInstance struct {
	UID    string `json:"uid"`
	ID     int    `json:"id"`
	Level  int    `json:"level"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	TypeID int    `json:"type_id"`
	Color  string `json:"color,omitempty"`
	Icon   string `json:"icon,omitempty"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Target is set while an animated move toward it is in flight.
	Target *Point `json:"target,omitempty"`

	Expanded bool `json:"expanded"`
	Loading  bool `json:"loading"`
	Root     bool `json:"root"`

	Fields []cmdb.Field `json:"fields,omitempty"`
	Raw    *cmdb.Node   `json:"-"`
}

// Position returns the current coordinates of the instance.
func (n *NodeInstance) Position() Point {
	return Point{X: n.X, Y: n.Y}
}

// AtOrigin reports whether the instance still sits on the origin placeholder
// assigned at creation time.
func (n *NodeInstance) AtOrigin() bool {
	return n.X == 0 && n.Y == 0
}

// Direction returns the raw direction tag recorded by the backend.
// The root instance always reports the root direction.
func (n *NodeInstance) Direction() string {
	if n.Root {
		return cmdb.DirectionRoot
	}
	if n.Raw == nil {
		return ""
	}
	return n.Raw.Direction
}

// RelationMeta is the relation metadata cached on a connection.
type RelationMeta struct {
	ID    int    `json:"id"`
	Name  string `json:"name,omitempty"`
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

func relationFrom(r cmdb.Relation) RelationMeta {
	return RelationMeta{ID: r.ID, Name: r.Name, Label: r.Label, Color: r.Color, Icon: r.Icon}
}

// Connection is a rendered edge between two node instances at adjacent levels.
// From is always the lower-level endpoint.
type Connection struct {
	FromUID   string       `json:"from_uid"`
	ToUID     string       `json:"to_uid"`
	FromID    int          `json:"from_id"`
	ToID      int          `json:"to_id"`
	FromLevel int          `json:"from_level"`
	ToLevel   int          `json:"to_level"`
	Relation  RelationMeta `json:"relation"`
	Valid     bool         `json:"valid"`
	Strength  float64      `json:"strength"`
	DataFlow  bool         `json:"data_flow,omitempty"`
}

// Touches reports whether the connection has uid as one of its endpoints.
func (c *Connection) Touches(uid string) bool {
	return c.FromUID == uid || c.ToUID == uid
}

// Other returns the endpoint opposite to uid.
func (c *Connection) Other(uid string) string {
	if c.FromUID == uid {
		return c.ToUID
	}
	return c.FromUID
}

// PointsTowardRoot reports whether the connection's target is nearer to the
// root level than its source.
func (c *Connection) PointsTowardRoot() bool {
	return absInt(c.ToLevel) < absInt(c.FromLevel)
}

// PairKey returns the normalized key of an unordered UID pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Graph is the caller-owned node array and connection array of a session.
type Graph struct {
	Nodes       []*NodeInstance
	Connections []*Connection
}

// Root returns the root instance, or nil when the graph is empty.
func (g *Graph) Root() *NodeInstance {
	for _, n := range g.Nodes {
		if n.Root {
			return n
		}
	}
	return nil
}

// Index returns the node instances keyed by UID.
func (g *Graph) Index() map[string]*NodeInstance {
	idx := make(map[string]*NodeInstance, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.UID] = n
	}
	return idx
}

// Find returns the instance with the given UID.
func (g *Graph) Find(uid string) (*NodeInstance, bool) {
	for _, n := range g.Nodes {
		if n.UID == uid {
			return n, true
		}
	}
	return nil, false
}

// TypeStyle holds the presentation hints of a CI type.
type TypeStyle struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// TypeRegistry maps a type label to its icon and colour. It is shared by the
// engines of a session and passed explicitly rather than held globally.
type TypeRegistry struct {
	styles map[string]TypeStyle
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{styles: make(map[string]TypeStyle)}
}

// Record stores the style for a type unless one is already present.
// It returns true when the style was stored.
func (r *TypeRegistry) Record(typeLabel string, style TypeStyle) bool {
	if typeLabel == "" {
		return false
	}
	if _, ok := r.styles[typeLabel]; ok {
		return false
	}
	r.styles[typeLabel] = style
	return true
}

// Lookup returns the style recorded for a type.
func (r *TypeRegistry) Lookup(typeLabel string) (TypeStyle, bool) {
	s, ok := r.styles[typeLabel]
	return s, ok
}

// Styles returns a copy of every recorded style.
func (r *TypeRegistry) Styles() map[string]TypeStyle {
	out := make(map[string]TypeStyle, len(r.styles))
	for k, v := range r.styles {
		out[k] = v
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (n *NodeInstance) String() string {
	return fmt.Sprintf("%s(id=%d,level=%d)", n.UID, n.ID, n.Level)
}
