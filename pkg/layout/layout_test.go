package layout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cigraph/pkg/graph"
)

func inst(uid string, level int) *graph.NodeInstance {
	return &graph.NodeInstance{UID: uid, Level: level, Root: level == 0}
}

func link(from, to *graph.NodeInstance) *graph.Connection {
	return &graph.Connection{FromUID: from.UID, ToUID: to.UID, FromLevel: from.Level, ToLevel: to.Level, Valid: true}
}

func TestGroups(t *testing.T) {
	nodes := []*graph.NodeInstance{inst("a", 1), inst("root", 0), inst("p", -1), inst("b", 1)}
	groups := Groups(nodes)
	require.Len(t, groups, 3)
	assert.Equal(t, -1, groups[0].Level)
	assert.Equal(t, 0, groups[1].Level)
	assert.Equal(t, 1, groups[2].Level)
	assert.Equal(t, "a", groups[2].Nodes[0].UID)
	assert.Equal(t, "b", groups[2].Nodes[1].UID)
}

func TestCompute(t *testing.T) {
	cfg := DefaultConfig()
	root := inst("root", 0)
	a, b, c := inst("a", 1), inst("b", 1), inst("c", 1)
	d := inst("d", 2)
	p := inst("p", -1)
	nodes := []*graph.NodeInstance{root, c, a, b, d, p}
	conns := []*graph.Connection{link(root, a), link(root, b), link(root, c), link(c, d), link(p, root)}

	pos := Compute(nodes, conns, cfg)
	require.Len(t, pos, 6)

	assert.Equal(t, graph.Point{X: 600, Y: 400}, pos["root"])
	assert.Equal(t, graph.Point{X: 380, Y: 560}, pos["a"])
	assert.Equal(t, graph.Point{X: 600, Y: 560}, pos["b"])
	assert.Equal(t, graph.Point{X: 820, Y: 560}, pos["c"])
	assert.Equal(t, graph.Point{X: 820, Y: 720}, pos["d"], "d stays under c")
	assert.Equal(t, graph.Point{X: 600, Y: 240}, pos["p"])
}

func TestComputeOrdersByAnchor(t *testing.T) {
	cfg := DefaultConfig()
	root := inst("root", 0)
	a, c := inst("a", 1), inst("c", 1)
	underA, underC := inst("z1", 2), inst("e1", 2)
	orphan := inst("o", 3)
	nodes := []*graph.NodeInstance{root, a, c, underA, underC, orphan}
	conns := []*graph.Connection{link(root, a), link(root, c), link(a, underA), link(c, underC)}

	pos := Compute(nodes, conns, cfg)

	// z1 sorts after e1 by UID but its anchor (a) is further left.
	assert.Less(t, pos["z1"].X, pos["e1"].X)
	assert.Equal(t, 490.0, pos["z1"].X)
	assert.Equal(t, 710.0, pos["e1"].X)
	assert.Equal(t, cfg.CenterX, pos["o"].X, "no placed neighbor falls back to the center")
}

func TestComputeEmpty(t *testing.T) {
	assert.Empty(t, Compute(nil, nil, DefaultConfig()))
}

func TestSnap(t *testing.T) {
	t.Run("grid", func(t *testing.T) {
		pos := map[string]graph.Point{
			"a": {X: 103, Y: 201},
			"b": {X: 131, Y: 250},
		}
		Snap(pos, 20, 8)
		assert.Equal(t, graph.Point{X: 100, Y: 200}, pos["a"])
		assert.Equal(t, graph.Point{X: 131, Y: 250}, pos["b"], "too far from any grid line")
	})

	t.Run("alignment", func(t *testing.T) {
		pos := map[string]graph.Point{
			"a": {X: 100, Y: 0},
			"b": {X: 106, Y: 50},
		}
		Snap(pos, 0, 8)
		assert.Equal(t, 100.0, pos["b"].X)
		assert.Equal(t, 50.0, pos["b"].Y)
	})

	t.Run("magnetic layout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Magnetic = true
		cfg.CenterX = 603
		pos := Compute([]*graph.NodeInstance{inst("root", 0)}, nil, cfg)
		assert.Equal(t, 600.0, pos["root"].X)
	})
}

func TestEngineApply(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	now := time.Unix(0, 0)

	root := inst("root", 0)
	a := inst("a", 1)
	nodes := []*graph.NodeInstance{root, a}
	conns := []*graph.Connection{link(root, a)}

	e.Apply(nodes, conns, now)
	assert.Equal(t, graph.Point{X: 600, Y: 400}, root.Position())
	assert.Equal(t, graph.Point{X: 600, Y: 560}, a.Position())
	assert.Equal(t, 0, e.Animator().Active())

	b := inst("b", 1)
	nodes = append(nodes, b)
	conns = append(conns, link(root, b))
	targets := e.Apply(nodes, conns, now)

	// b was on the origin placeholder and snaps; a animates.
	assert.Equal(t, targets["b"], b.Position())
	assert.Nil(t, b.Target)
	require.NotNil(t, a.Target)
	assert.Equal(t, graph.Point{X: 490, Y: 560}, *a.Target)
	assert.Equal(t, 600.0, a.X)
	assert.Equal(t, 1, e.Animator().Active())

	assert.True(t, e.Animator().Step(now.Add(cfg.Duration/2)))
	assert.InDelta(t, 545.0, a.X, 1e-9)

	assert.False(t, e.Animator().Step(now.Add(cfg.Duration)))
	assert.Equal(t, graph.Point{X: 490, Y: 560}, a.Position())
	assert.Nil(t, a.Target)
	assert.Equal(t, targets, e.Targets())
}

func TestEngineApplyDropsTweenOfHiddenNode(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	now := time.Unix(0, 0)

	root, a, b := inst("root", 0), inst("a", 1), inst("b", 1)
	e.Apply([]*graph.NodeInstance{root, a}, []*graph.Connection{link(root, a)}, now)
	e.Apply([]*graph.NodeInstance{root, a, b}, []*graph.Connection{link(root, a), link(root, b)}, now)
	require.NotNil(t, a.Target)

	e.Animator().Step(now.Add(cfg.Duration / 2))
	mid := a.Position()

	e.Apply([]*graph.NodeInstance{root, b}, []*graph.Connection{link(root, b)}, now.Add(cfg.Duration/2))
	assert.Nil(t, a.Target)
	_, ok := e.Animator().Token("a")
	assert.False(t, ok)

	e.Animator().Step(now.Add(cfg.Duration))
	assert.Equal(t, mid, a.Position(), "a hidden node stays where it was")
}

func TestEngineWithoutAnimationSnaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Animate = false
	e := NewEngine(cfg)

	root, a := inst("root", 0), inst("a", 1)
	e.Apply([]*graph.NodeInstance{root, a}, []*graph.Connection{link(root, a)}, time.Now())
	b := inst("b", 1)
	e.Apply([]*graph.NodeInstance{root, a, b}, []*graph.Connection{link(root, a), link(root, b)}, time.Now())

	assert.Equal(t, 490.0, a.X)
	assert.Equal(t, 0, e.Animator().Active())
}

func TestAnimatorSupersedes(t *testing.T) {
	an := NewAnimator()
	n := inst("n", 1)
	now := time.Unix(100, 0)

	first := an.Start(n, graph.Point{X: 100}, now, time.Second)
	second := an.Start(n, graph.Point{X: -100}, now, time.Second)
	assert.NotEqual(t, first, second)

	tok, ok := an.Token("n")
	require.True(t, ok)
	assert.Equal(t, second, tok)
	assert.Equal(t, 1, an.Active())

	an.Step(now.Add(2 * time.Second))
	assert.Equal(t, -100.0, n.X)
	_, ok = an.Token("n")
	assert.False(t, ok)
}

func TestAnimatorRetainAndCancel(t *testing.T) {
	an := NewAnimator()
	now := time.Now()
	a, b := inst("a", 1), inst("b", 1)
	an.Start(a, graph.Point{X: 10}, now, time.Second)
	an.Start(b, graph.Point{X: 10}, now, time.Second)

	an.Retain([]string{"a"})
	assert.Equal(t, 1, an.Active())
	assert.Nil(t, b.Target)
	assert.NotNil(t, a.Target)

	an.Cancel("a")
	assert.Equal(t, 0, an.Active())
	assert.Nil(t, a.Target)
}

func TestAnimatorRun(t *testing.T) {
	an := NewAnimator()
	n := inst("n", 1)
	var mu sync.Mutex
	an.Start(n, graph.Point{X: 42, Y: 7}, time.Now(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan bool, 16)
	done := make(chan struct{})
	go func() {
		an.Run(ctx, time.Millisecond, &mu, func(active bool) {
			select {
			case frames <- active:
			default:
			}
		})
		close(done)
	}()

	select {
	case active := <-frames:
		assert.False(t, active)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, graph.Point{X: 42, Y: 7}, n.Position())
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, EaseInOutCubic(-1))
	assert.Equal(t, 0.0625, EaseInOutCubic(0.25))
	assert.Equal(t, 0.5, EaseInOutCubic(0.5))
	assert.InDelta(t, 0.9375, EaseInOutCubic(0.75), 1e-12)
	assert.Equal(t, 1.0, EaseInOutCubic(2))
}
