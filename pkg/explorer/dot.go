package explorer

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/sanonone/cigraph/pkg/graph"
)

type attrs map[string]string

func (a attrs) Attributes() []encoding.Attribute {
	out := make([]encoding.Attribute, 0, len(a))
	for _, k := range slices.Sorted(maps.Keys(a)) {
		out = append(out, encoding.Attribute{Key: k, Value: a[k]})
	}
	return out
}

type dotNode struct {
	id   int64
	inst graph.NodeInstance
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return n.inst.UID }
func (n dotNode) Attributes() []encoding.Attribute {
	a := attrs{
		"label": fmt.Sprintf("%s\n%s #%d", n.inst.Label, n.inst.Type, n.inst.ID),
		"level": strconv.Itoa(n.inst.Level),
	}
	if n.inst.Color != "" {
		a["color"] = n.inst.Color
	}
	if n.inst.Root {
		a["shape"] = "doubleoctagon"
	}
	return a.Attributes()
}

type dotEdge struct {
	from, to dotNode
	conn     graph.Connection
}

func (e dotEdge) From() gonumgraph.Node         { return e.from }
func (e dotEdge) To() gonumgraph.Node           { return e.to }
func (e dotEdge) ReversedEdge() gonumgraph.Edge { return dotEdge{from: e.to, to: e.from, conn: e.conn} }
func (e dotEdge) Attributes() []encoding.Attribute {
	a := attrs{}
	if label := e.conn.Relation.Label; label != "" {
		a["label"] = label
	} else if e.conn.Relation.Name != "" {
		a["label"] = e.conn.Relation.Name
	}
	if e.conn.Relation.Color != "" {
		a["color"] = e.conn.Relation.Color
	}
	if e.conn.DataFlow {
		a["style"] = "bold"
	}
	return a.Attributes()
}

type dotGraph struct {
	*simple.DirectedGraph
}

func (dotGraph) DOTAttributers() (g, n, e encoding.Attributer) {
	return attrs{"rankdir": "TB"}, attrs{"shape": "box", "fontname": "Helvetica"}, attrs{"fontname": "Helvetica"}
}

// ExportDOT renders the visible graph in Graphviz DOT, nodes keyed by UID
// and edges oriented from the lower level.
func (s *Session) ExportDOT() ([]byte, error) {
	s.mu.Lock()
	g := dotGraph{simple.NewDirectedGraph()}
	nodes := make(map[string]dotNode, len(s.visible.Nodes))
	for i, inst := range s.visible.Nodes {
		n := dotNode{id: int64(i), inst: *inst}
		nodes[inst.UID] = n
		g.AddNode(n)
	}
	for _, c := range s.visible.Connections {
		from, okFrom := nodes[c.FromUID]
		to, okTo := nodes[c.ToUID]
		if !okFrom || !okTo || from.id == to.id {
			continue
		}
		g.SetEdge(dotEdge{from: from, to: to, conn: *c})
	}
	name := fmt.Sprintf("ci_%d", s.rootID)
	s.mu.Unlock()

	out, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export dot: %w", err)
	}
	return out, nil
}
