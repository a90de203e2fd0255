// Package geometry computes what the renderer draws for each connection:
// the curve, the arrow marker, the stroke weight and the label position.
// Every function is pure.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sanonone/cigraph/pkg/graph"
)

// StraightThreshold is the horizontal displacement below which an edge is
// drawn as a straight line instead of a curve.
const StraightThreshold = 4.0

// Arrow markers.
const (
	MarkerAway       = "arrow-away"
	MarkerToward     = "arrow-toward"
	MarkerAwayFlow   = "arrow-away-flow"
	MarkerTowardFlow = "arrow-toward-flow"
	MarkerInvalid    = "arrow-invalid"
)

// Markers lists every marker the renderer must define.
func Markers() []string {
	return []string{MarkerAway, MarkerToward, MarkerAwayFlow, MarkerTowardFlow, MarkerInvalid}
}

// Stroke limits in pixels.
const (
	BaseStroke = 1.5
	MinStroke  = 1.0
	MaxStroke  = 6.0
)

// Path is a cubic Bézier, or a straight segment, between two node borders.
type Path struct {
	Start    graph.Point `json:"start"`
	C1       graph.Point `json:"c1"`
	C2       graph.Point `json:"c2"`
	End      graph.Point `json:"end"`
	Straight bool        `json:"straight"`
	D        string      `json:"d"`
}

// EdgePath returns the path between two instances, always drawn from the
// root-ward instance to the one farther from the root.
func EdgePath(from, to *graph.NodeInstance, size Size) Path {
	if absInt(from.Level) > absInt(to.Level) {
		from, to = to, from
	}

	a, b := NodeRect(from, size), NodeRect(to, size)
	var p Path
	if to.Y >= from.Y {
		p.Start = graph.Point{X: from.X, Y: a.Bottom}
		p.End = graph.Point{X: to.X, Y: b.Top}
	} else {
		p.Start = graph.Point{X: from.X, Y: a.Top}
		p.End = graph.Point{X: to.X, Y: b.Bottom}
	}

	if math.Abs(p.End.X-p.Start.X) < StraightThreshold {
		p.Straight = true
		p.C1, p.C2 = p.Start, p.End
		p.D = "M " + pt(p.Start) + " L " + pt(p.End)
		return p
	}

	midY := (p.Start.Y + p.End.Y) / 2
	p.C1 = graph.Point{X: p.Start.X, Y: midY}
	p.C2 = graph.Point{X: p.End.X, Y: midY}
	p.D = "M " + pt(p.Start) + " C " + strings.Join([]string{pt(p.C1), pt(p.C2), pt(p.End)}, ", ")
	return p
}

func pt(p graph.Point) string {
	return num(p.X) + " " + num(p.Y)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Midpoint returns the point halfway along the path, where the relation
// label goes.
func Midpoint(p Path) graph.Point {
	if p.Straight {
		return graph.Point{X: (p.Start.X + p.End.X) / 2, Y: (p.Start.Y + p.End.Y) / 2}
	}
	// B(0.5) = (P0 + 3 P1 + 3 P2 + P3) / 8
	return graph.Point{
		X: (p.Start.X + 3*p.C1.X + 3*p.C2.X + p.End.X) / 8,
		Y: (p.Start.Y + 3*p.C1.Y + 3*p.C2.Y + p.End.Y) / 8,
	}
}

// Marker picks the arrow marker of a connection.
func Marker(c *graph.Connection) string {
	if !c.Valid {
		return MarkerInvalid
	}
	toward := c.PointsTowardRoot()
	switch {
	case toward && c.DataFlow:
		return MarkerTowardFlow
	case toward:
		return MarkerToward
	case c.DataFlow:
		return MarkerAwayFlow
	default:
		return MarkerAway
	}
}

// StrokeWidth scales the base stroke by the connection strength.
func StrokeWidth(c *graph.Connection) float64 {
	if !c.Valid {
		return MinStroke
	}
	s := c.Strength
	if s <= 0 {
		s = graph.DefaultStrength
	}
	return math.Max(MinStroke, math.Min(MaxStroke, BaseStroke*s))
}

// ValidateConnections drops connections with a missing endpoint or
// non-adjacent levels, removes repeats of the same ordered pair and
// refreshes the cached endpoint fields of the survivors.
func ValidateConnections(conns []*graph.Connection, instances map[string]*graph.NodeInstance) []*graph.Connection {
	out := make([]*graph.Connection, 0, len(conns))
	seen := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		from, okFrom := instances[c.FromUID]
		to, okTo := instances[c.ToUID]
		if !okFrom || !okTo {
			continue
		}
		if absInt(from.Level-to.Level) != 1 {
			continue
		}
		if from.Level > to.Level {
			c.FromUID, c.ToUID = c.ToUID, c.FromUID
			from, to = to, from
		}
		key := c.FromUID + "->" + c.ToUID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		c.FromID, c.ToID = from.ID, to.ID
		c.FromLevel, c.ToLevel = from.Level, to.Level
		out = append(out, c)
	}
	return out
}

// EdgeGeometry is everything the renderer needs to draw one connection.
type EdgeGeometry struct {
	FromUID     string      `json:"from_uid"`
	ToUID       string      `json:"to_uid"`
	Path        Path        `json:"path"`
	LabelAt     graph.Point `json:"label_at"`
	Label       string      `json:"label,omitempty"`
	Color       string      `json:"color,omitempty"`
	Marker      string      `json:"marker"`
	StrokeWidth float64     `json:"stroke_width"`
}

// Key identifies the geometry in renderer caches.
func (e EdgeGeometry) Key() string {
	return fmt.Sprintf("%s->%s", e.FromUID, e.ToUID)
}

// Render computes the geometry of every connection whose endpoints are in
// nodes.
func Render(nodes []*graph.NodeInstance, conns []*graph.Connection, size Size) []EdgeGeometry {
	index := make(map[string]*graph.NodeInstance, len(nodes))
	for _, n := range nodes {
		index[n.UID] = n
	}

	out := make([]EdgeGeometry, 0, len(conns))
	for _, c := range conns {
		from, okFrom := index[c.FromUID]
		to, okTo := index[c.ToUID]
		if !okFrom || !okTo {
			continue
		}
		path := EdgePath(from, to, size)
		label := c.Relation.Label
		if label == "" {
			label = c.Relation.Name
		}
		out = append(out, EdgeGeometry{
			FromUID:     c.FromUID,
			ToUID:       c.ToUID,
			Path:        path,
			LabelAt:     Midpoint(path),
			Label:       label,
			Color:       c.Relation.Color,
			Marker:      Marker(c),
			StrokeWidth: StrokeWidth(c),
		})
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
