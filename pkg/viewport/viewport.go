// Package viewport owns pan and zoom state, bounding boxes, the minimap
// projection and culling. It never changes graph content.
//
// Screen coordinates relate to graph coordinates through
//
//	screen = graph*zoom + offset
package viewport

import (
	"math"
	"time"

	"github.com/sanonone/cigraph/pkg/geometry"
	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/layout"
)

// Config holds the viewport parameters.
type Config struct {
	Width         float64       `yaml:"width" json:"width"`
	Height        float64       `yaml:"height" json:"height"`
	MinZoom       float64       `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom       float64       `yaml:"max_zoom" json:"max_zoom"`
	ZoomStep      float64       `yaml:"zoom_step" json:"zoom_step"`
	ZoomDuration  time.Duration `yaml:"zoom_duration" json:"zoom_duration"`
	CullThreshold int           `yaml:"cull_threshold" json:"cull_threshold"`
	CullPadding   float64       `yaml:"cull_padding" json:"cull_padding"`
	NodeSize      geometry.Size `yaml:"node_size" json:"node_size"`
	FitPadding    float64       `yaml:"fit_padding" json:"fit_padding"`
	MinimapWidth  float64       `yaml:"minimap_width" json:"minimap_width"`
	MinimapHeight float64       `yaml:"minimap_height" json:"minimap_height"`
}

func DefaultConfig() Config {
	return Config{
		Width:         1200,
		Height:        800,
		MinZoom:       0.1,
		MaxZoom:       3,
		ZoomStep:      1.2,
		ZoomDuration:  250 * time.Millisecond,
		CullThreshold: 150,
		CullPadding:   200,
		NodeSize:      geometry.DefaultNodeSize,
		FitPadding:    60,
		MinimapWidth:  200,
		MinimapHeight: 150,
	}
}

// State is a snapshot of the viewport.
type State struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Zoom       float64 `json:"zoom"`
	TargetZoom float64 `json:"target_zoom"`
	OffsetX    float64 `json:"offset_x"`
	OffsetY    float64 `json:"offset_y"`
	Animating  bool    `json:"animating"`
}

type zoomAnim struct {
	fromZoom, toZoom float64
	fromOff, toOff   graph.Point
	start            time.Time
	duration         time.Duration
}

// Viewport is the pan/zoom state of one session.
type Viewport struct {
	cfg    Config
	width  float64
	height float64
	zoom   float64
	offset graph.Point
	anim   *zoomAnim
}

func New(cfg Config) *Viewport {
	return &Viewport{cfg: cfg, width: cfg.Width, height: cfg.Height, zoom: 1}
}

func (v *Viewport) Config() Config {
	return v.cfg
}

// Resize sets the container size in screen pixels.
func (v *Viewport) Resize(width, height float64) {
	if width > 0 {
		v.width = width
	}
	if height > 0 {
		v.height = height
	}
}

// Pan moves the view by a screen-space delta. A running zoom animation is
// shifted by the same amount.
func (v *Viewport) Pan(dx, dy float64) {
	v.offset.X += dx
	v.offset.Y += dy
	if v.anim != nil {
		v.anim.fromOff.X += dx
		v.anim.fromOff.Y += dy
		v.anim.toOff.X += dx
		v.anim.toOff.Y += dy
	}
}

func (v *Viewport) clamp(z float64) float64 {
	return math.Max(v.cfg.MinZoom, math.Min(v.cfg.MaxZoom, z))
}

// targetZoom is the zoom the view is heading to.
func (v *Viewport) targetZoom() float64 {
	if v.anim != nil {
		return v.anim.toZoom
	}
	return v.zoom
}

// ToScreen projects a graph point to screen space.
func (v *Viewport) ToScreen(p graph.Point) graph.Point {
	return graph.Point{X: p.X*v.zoom + v.offset.X, Y: p.Y*v.zoom + v.offset.Y}
}

// ToGraph projects a screen point to graph space.
func (v *Viewport) ToGraph(sx, sy float64) graph.Point {
	return graph.Point{X: (sx - v.offset.X) / v.zoom, Y: (sy - v.offset.Y) / v.zoom}
}

// ZoomTo animates toward target, keeping the container center fixed.
func (v *Viewport) ZoomTo(target float64, now time.Time) {
	v.ZoomAt(target/v.targetZoom(), v.width/2, v.height/2, now)
}

// ZoomAt multiplies the target zoom by factor, keeping the graph point under
// the screen point (sx, sy) fixed.
func (v *Viewport) ZoomAt(factor, sx, sy float64, now time.Time) {
	if factor <= 0 {
		return
	}
	to := v.clamp(v.targetZoom() * factor)
	pivot := v.ToGraph(sx, sy)
	v.animateTo(to, graph.Point{X: sx - pivot.X*to, Y: sy - pivot.Y*to}, now)
}

// ZoomIn and ZoomOut step the zoom by the configured factor around the
// container center.
func (v *Viewport) ZoomIn(now time.Time) {
	v.ZoomAt(v.cfg.ZoomStep, v.width/2, v.height/2, now)
}

func (v *Viewport) ZoomOut(now time.Time) {
	v.ZoomAt(1/v.cfg.ZoomStep, v.width/2, v.height/2, now)
}

func (v *Viewport) animateTo(zoom float64, offset graph.Point, now time.Time) {
	if v.cfg.ZoomDuration <= 0 {
		v.zoom, v.offset, v.anim = zoom, offset, nil
		return
	}
	v.anim = &zoomAnim{
		fromZoom: v.zoom,
		toZoom:   zoom,
		fromOff:  v.offset,
		toOff:    offset,
		start:    now,
		duration: v.cfg.ZoomDuration,
	}
}

// Step advances the zoom animation. It reports whether it is still running.
func (v *Viewport) Step(now time.Time) bool {
	a := v.anim
	if a == nil {
		return false
	}
	p := float64(now.Sub(a.start)) / float64(a.duration)
	if p >= 1 {
		v.zoom, v.offset, v.anim = a.toZoom, a.toOff, nil
		return false
	}
	e := layout.EaseInOutCubic(p)
	v.zoom = a.fromZoom + (a.toZoom-a.fromZoom)*e
	v.offset = graph.Point{
		X: a.fromOff.X + (a.toOff.X-a.fromOff.X)*e,
		Y: a.fromOff.Y + (a.toOff.Y-a.fromOff.Y)*e,
	}
	return true
}

// Bounds returns the box holding every node rectangle. ok is false when
// nodes is empty.
func (v *Viewport) Bounds(nodes []*graph.NodeInstance) (r geometry.Rect, ok bool) {
	for _, n := range nodes {
		nr := geometry.NodeRect(n, v.cfg.NodeSize)
		if !ok {
			r, ok = nr, true
			continue
		}
		r = r.Union(nr)
	}
	return r, ok
}

// BoundsOf is Bounds restricted to the given UIDs.
func (v *Viewport) BoundsOf(nodes []*graph.NodeInstance, uids []string) (geometry.Rect, bool) {
	want := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		want[uid] = struct{}{}
	}
	var subset []*graph.NodeInstance
	for _, n := range nodes {
		if _, ok := want[n.UID]; ok {
			subset = append(subset, n)
		}
	}
	return v.Bounds(subset)
}

// Fit zooms and pans so that every node fits the container.
func (v *Viewport) Fit(nodes []*graph.NodeInstance, now time.Time) bool {
	r, ok := v.Bounds(nodes)
	if !ok {
		return false
	}
	v.FitRect(r, now)
	return true
}

// FitRect zooms and pans so that r, plus the fit padding, fills the
// container.
func (v *Viewport) FitRect(r geometry.Rect, now time.Time) {
	r = r.Inflate(v.cfg.FitPadding)
	zoom := v.clamp(math.Min(v.width/r.Width(), v.height/r.Height()))
	c := r.Center()
	v.animateTo(zoom, graph.Point{X: v.width/2 - c.X*zoom, Y: v.height/2 - c.Y*zoom}, now)
}

// CenterOn pans immediately so that n sits in the middle of the container.
func (v *Viewport) CenterOn(n *graph.NodeInstance) {
	v.anim = nil
	v.offset = graph.Point{X: v.width/2 - n.X*v.zoom, Y: v.height/2 - n.Y*v.zoom}
}

// Visible returns the graph-space rectangle shown by the container.
func (v *Viewport) Visible() geometry.Rect {
	tl := v.ToGraph(0, 0)
	br := v.ToGraph(v.width, v.height)
	return geometry.Rect{Left: tl.X, Top: tl.Y, Right: br.X, Bottom: br.Y}
}

// Cull returns the nodes worth rendering. Graphs at or below the threshold
// are returned whole; larger ones keep only nodes whose padded screen
// rectangle meets the container.
func (v *Viewport) Cull(nodes []*graph.NodeInstance) []*graph.NodeInstance {
	if len(nodes) <= v.cfg.CullThreshold {
		return nodes
	}
	screen := geometry.Rect{Right: v.width, Bottom: v.height}
	out := make([]*graph.NodeInstance, 0, len(nodes))
	for _, n := range nodes {
		nr := geometry.NodeRect(n, v.cfg.NodeSize)
		tl := v.ToScreen(graph.Point{X: nr.Left, Y: nr.Top})
		br := v.ToScreen(graph.Point{X: nr.Right, Y: nr.Bottom})
		sr := geometry.Rect{Left: tl.X, Top: tl.Y, Right: br.X, Bottom: br.Y}.Inflate(v.cfg.CullPadding)
		if sr.Intersects(screen) {
			out = append(out, n)
		}
	}
	return out
}

func (v *Viewport) State() State {
	return State{
		Width:      v.width,
		Height:     v.height,
		Zoom:       v.zoom,
		TargetZoom: v.targetZoom(),
		OffsetX:    v.offset.X,
		OffsetY:    v.offset.Y,
		Animating:  v.anim != nil,
	}
}
