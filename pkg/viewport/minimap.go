package viewport

import (
	"math"

	"github.com/sanonone/cigraph/pkg/geometry"
	"github.com/sanonone/cigraph/pkg/graph"
)

// MiniNode is a node projected into minimap space.
type MiniNode struct {
	UID   string  `json:"uid"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

// Minimap is the overview projection of the whole graph.
type Minimap struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
	// ViewBox is the graph-space box the minimap shows.
	ViewBox geometry.Rect `json:"view_box"`
	// Window is the visible part of the main view, in minimap space.
	Window geometry.Rect `json:"window"`
	Nodes  []MiniNode    `json:"nodes"`
}

// Minimap projects every node into a box of the configured minimap size.
func (v *Viewport) Minimap(nodes []*graph.NodeInstance) Minimap {
	m := Minimap{Width: v.cfg.MinimapWidth, Height: v.cfg.MinimapHeight}
	box, ok := v.Bounds(nodes)
	if !ok {
		return m
	}
	box = box.Inflate(v.cfg.FitPadding)
	m.ViewBox = box
	m.Scale = math.Min(m.Width/box.Width(), m.Height/box.Height())

	project := func(p graph.Point) graph.Point {
		return graph.Point{X: (p.X - box.Left) * m.Scale, Y: (p.Y - box.Top) * m.Scale}
	}

	m.Nodes = make([]MiniNode, 0, len(nodes))
	for _, n := range nodes {
		p := project(n.Position())
		m.Nodes = append(m.Nodes, MiniNode{UID: n.UID, X: p.X, Y: p.Y, Color: n.Color})
	}

	vis := v.Visible()
	tl := project(graph.Point{X: vis.Left, Y: vis.Top})
	br := project(graph.Point{X: vis.Right, Y: vis.Bottom})
	m.Window = geometry.Rect{Left: tl.X, Top: tl.Y, Right: br.X, Bottom: br.Y}
	return m
}
