package geometry

import (
	"math"

	"github.com/sanonone/cigraph/pkg/graph"
)

// Size is the width and height of a rendered node rectangle.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// DefaultNodeSize matches the node cards drawn by the browser.
var DefaultNodeSize = Size{Width: 180, Height: 60}

// Rect is an axis-aligned box in graph space.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// NodeRect returns the rectangle of a node centered on its position.
func NodeRect(n *graph.NodeInstance, size Size) Rect {
	return Rect{
		Left:   n.X - size.Width/2,
		Top:    n.Y - size.Height/2,
		Right:  n.X + size.Width/2,
		Bottom: n.Y + size.Height/2,
	}
}

func (r Rect) Width() float64 {
	return r.Right - r.Left
}

func (r Rect) Height() float64 {
	return r.Bottom - r.Top
}

func (r Rect) Center() graph.Point {
	return graph.Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

func (r Rect) Contains(p graph.Point) bool {
	return p.X >= r.Left && p.X <= r.Right && p.Y >= r.Top && p.Y <= r.Bottom
}

// Intersects reports whether the two rectangles overlap or touch.
func (r Rect) Intersects(o Rect) bool {
	return r.Left <= o.Right && o.Left <= r.Right && r.Top <= o.Bottom && o.Top <= r.Bottom
}

// Union returns the smallest rectangle holding both.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   math.Min(r.Left, o.Left),
		Top:    math.Min(r.Top, o.Top),
		Right:  math.Max(r.Right, o.Right),
		Bottom: math.Max(r.Bottom, o.Bottom),
	}
}

// Inflate grows the rectangle by pad on every side.
func (r Rect) Inflate(pad float64) Rect {
	return Rect{Left: r.Left - pad, Top: r.Top - pad, Right: r.Right + pad, Bottom: r.Bottom + pad}
}
