// Package layout assigns screen coordinates to the visible node instances of
// an explorer graph.
//
// Nodes are bucketed by level. Level 0 is centered on the configured anchor;
// every other level is ordered by the mean x of its already placed neighbors
// on the level nearer to the root, so related subtrees stay clustered under
// (or above) the node they were expanded from.
package layout

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/cigraph/pkg/graph"
)

// Config holds the layout parameters.
type Config struct {
	CenterX           float64       `yaml:"center_x" json:"center_x"`
	CenterY           float64       `yaml:"center_y" json:"center_y"`
	HorizontalSpacing float64       `yaml:"horizontal_spacing" json:"horizontal_spacing"`
	LevelSpacing      float64       `yaml:"level_spacing" json:"level_spacing"`
	Animate           bool          `yaml:"animate" json:"animate"`
	Duration          time.Duration `yaml:"duration" json:"duration"`

	// Magnetic snap: grid rounding then alignment with nearby nodes,
	// both within SnapThreshold.
	Magnetic      bool    `yaml:"magnetic" json:"magnetic"`
	GridSize      float64 `yaml:"grid_size" json:"grid_size"`
	SnapThreshold float64 `yaml:"snap_threshold" json:"snap_threshold"`
}

// DefaultConfig returns the layout used by new sessions.
func DefaultConfig() Config {
	return Config{
		CenterX:           600,
		CenterY:           400,
		HorizontalSpacing: 220,
		LevelSpacing:      160,
		Animate:           true,
		Duration:          400 * time.Millisecond,
		Magnetic:          false,
		GridSize:          20,
		SnapThreshold:     8,
	}
}

// NodeGroup is the bucket of node instances sharing one level. Groups are
// rebuilt on every pass.
type NodeGroup struct {
	Level int
	Nodes []*graph.NodeInstance
}

// Groups buckets nodes by level, ordered by ascending level. Nodes keep their
// input order inside a bucket.
func Groups(nodes []*graph.NodeInstance) []NodeGroup {
	byLevel := make(map[int][]*graph.NodeInstance)
	for _, n := range nodes {
		byLevel[n.Level] = append(byLevel[n.Level], n)
	}

	groups := make([]NodeGroup, 0, len(byLevel))
	for level, members := range byLevel {
		groups = append(groups, NodeGroup{Level: level, Nodes: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Level < groups[j].Level })
	return groups
}

// Compute returns the target position of every node.
func Compute(nodes []*graph.NodeInstance, conns []*graph.Connection, cfg Config) map[string]graph.Point {
	pos := make(map[string]graph.Point, len(nodes))
	if len(nodes) == 0 {
		return pos
	}

	neighbors := make(map[string][]string)
	for _, c := range conns {
		neighbors[c.FromUID] = append(neighbors[c.FromUID], c.ToUID)
		neighbors[c.ToUID] = append(neighbors[c.ToUID], c.FromUID)
	}

	groups := Groups(nodes)
	byLevel := make(map[int]NodeGroup, len(groups))
	levelOf := make(map[string]int, len(nodes))
	for _, grp := range groups {
		byLevel[grp.Level] = grp
		for _, n := range grp.Nodes {
			levelOf[n.UID] = grp.Level
		}
	}

	place := func(grp NodeGroup, source int) {
		anchors := make(map[string]float64, len(grp.Nodes))
		for _, n := range grp.Nodes {
			anchors[n.UID] = anchorOf(n.UID, source, neighbors, levelOf, pos, cfg.CenterX)
		}

		ordered := append([]*graph.NodeInstance(nil), grp.Nodes...)
		sort.SliceStable(ordered, func(i, j int) bool {
			ai, aj := anchors[ordered[i].UID], anchors[ordered[j].UID]
			if ai != aj {
				return ai < aj
			}
			return ordered[i].UID < ordered[j].UID
		})

		values := make([]float64, len(ordered))
		for i, n := range ordered {
			values[i] = anchors[n.UID]
		}
		center := stat.Mean(values, nil)

		y := cfg.CenterY + float64(grp.Level)*cfg.LevelSpacing
		half := float64(len(ordered)-1) / 2
		for i, n := range ordered {
			pos[n.UID] = graph.Point{X: center + (float64(i)-half)*cfg.HorizontalSpacing, Y: y}
		}
	}

	if grp, ok := byLevel[0]; ok {
		place(grp, math.MaxInt)
	}
	for _, grp := range groups {
		if grp.Level > 0 {
			place(grp, grp.Level-1)
		}
	}
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i].Level < 0 {
			place(groups[i], groups[i].Level+1)
		}
	}

	if cfg.Magnetic {
		Snap(pos, cfg.GridSize, cfg.SnapThreshold)
	}
	return pos
}

// anchorOf returns the mean x of the placed neighbors of uid on the source
// level, or fallback when there are none.
func anchorOf(uid string, source int, neighbors map[string][]string, levelOf map[string]int, pos map[string]graph.Point, fallback float64) float64 {
	if source == math.MaxInt {
		return fallback
	}
	var xs []float64
	for _, nb := range neighbors[uid] {
		if levelOf[nb] != source {
			continue
		}
		if p, ok := pos[nb]; ok {
			xs = append(xs, p.X)
		}
	}
	if len(xs) == 0 {
		return fallback
	}
	return stat.Mean(xs, nil)
}

// Snap applies one magnetic pass to pos. Each coordinate is first rounded to
// the grid when within threshold, then aligned with the same coordinate of
// an earlier node (in UID order) when within threshold.
func Snap(pos map[string]graph.Point, grid, threshold float64) {
	if threshold <= 0 {
		return
	}
	uids := make([]string, 0, len(pos))
	for uid := range pos {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	var xs, ys []float64
	for _, uid := range uids {
		p := pos[uid]
		if grid > 0 {
			p.X = toGrid(p.X, grid, threshold)
			p.Y = toGrid(p.Y, grid, threshold)
		}
		p.X = align(p.X, xs, threshold)
		p.Y = align(p.Y, ys, threshold)
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		pos[uid] = p
	}
}

func toGrid(v, grid, threshold float64) float64 {
	r := math.Round(v/grid) * grid
	if math.Abs(r-v) <= threshold {
		return r
	}
	return v
}

func align(v float64, others []float64, threshold float64) float64 {
	for _, o := range others {
		if o != v && math.Abs(o-v) <= threshold {
			return o
		}
	}
	return v
}

// Engine applies layout passes to live node instances, snapping or
// animating them toward their targets.
type Engine struct {
	cfg      Config
	anim     *Animator
	laidOut  bool
	lastPass map[string]graph.Point
}

// NewEngine returns an engine with its own animator.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, anim: NewAnimator()}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// SetConfig replaces the layout parameters. The next pass uses them.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
}

func (e *Engine) Animator() *Animator {
	return e.anim
}

// Apply computes target positions and moves the nodes. The first pass, and
// any node still on its origin placeholder, snaps immediately; every other
// move is animated when animation is enabled.
func (e *Engine) Apply(nodes []*graph.NodeInstance, conns []*graph.Connection, now time.Time) map[string]graph.Point {
	targets := Compute(nodes, conns, e.cfg)

	uids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		uids = append(uids, n.UID)
	}
	e.anim.Retain(uids)

	for _, n := range nodes {
		t := targets[n.UID]
		switch {
		case !e.laidOut || !e.cfg.Animate || e.cfg.Duration <= 0 || n.AtOrigin():
			e.anim.Cancel(n.UID)
			n.X, n.Y = t.X, t.Y
			n.Target = nil
		case n.X == t.X && n.Y == t.Y:
			e.anim.Cancel(n.UID)
			n.Target = nil
		case n.Target != nil && *n.Target == t:
			// Already heading there.
		default:
			e.anim.Start(n, t, now, e.cfg.Duration)
		}
	}

	e.laidOut = true
	e.lastPass = targets
	return targets
}

// Targets returns the positions computed by the last pass.
func (e *Engine) Targets() map[string]graph.Point {
	return e.lastPass
}

// Reset makes the next pass snap, as on a freshly loaded graph.
func (e *Engine) Reset() {
	e.laidOut = false
	e.lastPass = nil
	e.anim.Clear()
}
