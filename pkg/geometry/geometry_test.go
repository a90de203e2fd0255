package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cigraph/pkg/graph"
)

func at(uid string, id, level int, x, y float64) *graph.NodeInstance {
	return &graph.NodeInstance{UID: uid, ID: id, Level: level, X: x, Y: y}
}

func TestEdgePath(t *testing.T) {
	size := Size{Width: 100, Height: 40}

	t.Run("curve from root-ward node", func(t *testing.T) {
		root := at("r", 1, 0, 0, 0)
		child := at("c", 2, 1, 200, 160)

		p := EdgePath(child, root, size)
		assert.False(t, p.Straight)
		assert.Equal(t, graph.Point{X: 0, Y: 20}, p.Start)
		assert.Equal(t, graph.Point{X: 200, Y: 140}, p.End)
		assert.Equal(t, graph.Point{X: 0, Y: 80}, p.C1)
		assert.Equal(t, graph.Point{X: 200, Y: 80}, p.C2)
		assert.Equal(t, "M 0 20 C 0 80, 200 80, 200 140", p.D)
		assert.Equal(t, graph.Point{X: 100, Y: 80}, Midpoint(p))
	})

	t.Run("near vertical edge is straight", func(t *testing.T) {
		root := at("r", 1, 0, 0, 0)
		child := at("c", 2, 1, 2, 160)

		p := EdgePath(root, child, size)
		assert.True(t, p.Straight)
		assert.Equal(t, "M 0 20 L 2 140", p.D)
		assert.Equal(t, graph.Point{X: 1, Y: 80}, Midpoint(p))
	})

	t.Run("parent side runs upward", func(t *testing.T) {
		root := at("r", 1, 0, 0, 0)
		parent := at("p", 2, -1, 0, -160)

		p := EdgePath(parent, root, size)
		assert.Equal(t, graph.Point{X: 0, Y: -20}, p.Start)
		assert.Equal(t, graph.Point{X: 0, Y: -140}, p.End)
	})
}

func TestMarker(t *testing.T) {
	cases := []struct {
		name string
		conn graph.Connection
		want string
	}{
		{"child side", graph.Connection{FromLevel: 0, ToLevel: 1, Valid: true}, MarkerAway},
		{"parent side", graph.Connection{FromLevel: -1, ToLevel: 0, Valid: true}, MarkerToward},
		{"child side data flow", graph.Connection{FromLevel: 1, ToLevel: 2, Valid: true, DataFlow: true}, MarkerAwayFlow},
		{"parent side data flow", graph.Connection{FromLevel: -2, ToLevel: -1, Valid: true, DataFlow: true}, MarkerTowardFlow},
		{"invalid", graph.Connection{FromLevel: 0, ToLevel: 1, DataFlow: true}, MarkerInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Marker(&tc.conn))
			assert.Contains(t, Markers(), tc.want)
		})
	}
}

func TestStrokeWidth(t *testing.T) {
	assert.Equal(t, BaseStroke, StrokeWidth(&graph.Connection{Valid: true}))
	assert.Equal(t, 3.0, StrokeWidth(&graph.Connection{Valid: true, Strength: 2}))
	assert.Equal(t, MaxStroke, StrokeWidth(&graph.Connection{Valid: true, Strength: 100}))
	assert.Equal(t, MinStroke, StrokeWidth(&graph.Connection{Valid: true, Strength: 0.1}))
	assert.Equal(t, MinStroke, StrokeWidth(&graph.Connection{Strength: 4}))
}

func TestValidateConnections(t *testing.T) {
	root := at("r", 1, 0, 0, 0)
	a := at("a", 2, 1, 0, 0)
	b := at("b", 3, 2, 0, 0)
	instances := map[string]*graph.NodeInstance{"r": root, "a": a, "b": b}

	conns := []*graph.Connection{
		{FromUID: "r", ToUID: "a", FromLevel: 5, ToLevel: 9},
		{FromUID: "r", ToUID: "a"},
		{FromUID: "b", ToUID: "a"},
		{FromUID: "r", ToUID: "b"},
		{FromUID: "r", ToUID: "gone"},
	}
	out := ValidateConnections(conns, instances)
	require.Len(t, out, 2)

	assert.Equal(t, 0, out[0].FromLevel)
	assert.Equal(t, 1, out[0].ToLevel)
	assert.Equal(t, 1, out[0].FromID)
	assert.Equal(t, 2, out[0].ToID)

	assert.Equal(t, "a", out[1].FromUID, "reoriented lower level first")
	assert.Equal(t, "b", out[1].ToUID)

	for _, c := range out {
		assert.Equal(t, 1, c.ToLevel-c.FromLevel)
	}
}

func TestRender(t *testing.T) {
	root := at("r", 1, 0, 0, 0)
	a := at("a", 2, 1, 300, 160)
	conns := []*graph.Connection{
		{FromUID: "r", ToUID: "a", FromLevel: 0, ToLevel: 1, Valid: true, Strength: 2,
			Relation: graph.RelationMeta{Name: "runs_on", Color: "#f00"}},
		{FromUID: "r", ToUID: "hidden", Valid: true},
	}

	out := Render([]*graph.NodeInstance{root, a}, conns, DefaultNodeSize)
	require.Len(t, out, 1)
	g := out[0]
	assert.Equal(t, "r->a", g.Key())
	assert.Equal(t, "runs_on", g.Label)
	assert.Equal(t, "#f00", g.Color)
	assert.Equal(t, MarkerAway, g.Marker)
	assert.Equal(t, 3.0, g.StrokeWidth)
	assert.Equal(t, Midpoint(g.Path), g.LabelAt)
}

func TestRect(t *testing.T) {
	r := NodeRect(at("n", 1, 0, 100, 50), Size{Width: 40, Height: 20})
	assert.Equal(t, Rect{Left: 80, Top: 40, Right: 120, Bottom: 60}, r)
	assert.Equal(t, 40.0, r.Width())
	assert.Equal(t, graph.Point{X: 100, Y: 50}, r.Center())
	assert.True(t, r.Contains(graph.Point{X: 80, Y: 60}))
	assert.True(t, r.Intersects(Rect{Left: 120, Top: 0, Right: 200, Bottom: 40}))
	assert.False(t, r.Intersects(Rect{Left: 121, Top: 0, Right: 200, Bottom: 40}))
	assert.Equal(t, Rect{Left: 0, Top: 0, Right: 120, Bottom: 60}, r.Union(Rect{Right: 10, Bottom: 10}))
	assert.Equal(t, Rect{Left: 70, Top: 30, Right: 130, Bottom: 70}, r.Inflate(10))
	assert.True(t, Rect{}.Empty())
}
