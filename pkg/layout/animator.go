package layout

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sanonone/cigraph/pkg/graph"
)

// EaseInOutCubic maps linear progress in [0,1] to eased progress.
func EaseInOutCubic(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 4 * t * t * t
	default:
		return 1 - math.Pow(-2*t+2, 3)/2
	}
}

// tween is one in-flight move of a node.
type tween struct {
	node     *graph.NodeInstance
	from, to graph.Point
	start    time.Time
	duration time.Duration
	token    uint64
}

// Animator moves nodes toward their targets over time. Every node has at
// most one tween; starting a new one supersedes the old one and issues a new
// token. It does no locking of its own: callers hold whatever lock guards
// the nodes.
type Animator struct {
	tweens map[string]*tween
	seq    uint64
}

func NewAnimator() *Animator {
	return &Animator{tweens: make(map[string]*tween)}
}

// Start begins moving n from its current position to target and returns the
// token of the new tween.
func (a *Animator) Start(n *graph.NodeInstance, target graph.Point, now time.Time, d time.Duration) uint64 {
	a.seq++
	a.tweens[n.UID] = &tween{
		node:     n,
		from:     n.Position(),
		to:       target,
		start:    now,
		duration: d,
		token:    a.seq,
	}
	t := target
	n.Target = &t
	return a.seq
}

// Token returns the token of the tween currently driving uid.
func (a *Animator) Token(uid string) (uint64, bool) {
	tw, ok := a.tweens[uid]
	if !ok {
		return 0, false
	}
	return tw.token, true
}

// Step advances every tween to now. Finished tweens land exactly on their
// target and are dropped. It reports whether any tween is still running.
func (a *Animator) Step(now time.Time) bool {
	for uid, tw := range a.tweens {
		p := 1.0
		if tw.duration > 0 {
			p = float64(now.Sub(tw.start)) / float64(tw.duration)
		}
		if p >= 1 {
			tw.node.X, tw.node.Y = tw.to.X, tw.to.Y
			tw.node.Target = nil
			delete(a.tweens, uid)
			continue
		}
		e := EaseInOutCubic(p)
		tw.node.X = tw.from.X + (tw.to.X-tw.from.X)*e
		tw.node.Y = tw.from.Y + (tw.to.Y-tw.from.Y)*e
	}
	return len(a.tweens) > 0
}

// Cancel drops the tween of uid, leaving the node where it is.
func (a *Animator) Cancel(uid string) {
	if tw, ok := a.tweens[uid]; ok {
		tw.node.Target = nil
		delete(a.tweens, uid)
	}
}

// Retain cancels the tweens of nodes that are no longer in uids.
func (a *Animator) Retain(uids []string) {
	keep := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		keep[uid] = struct{}{}
	}
	for uid, tw := range a.tweens {
		if _, ok := keep[uid]; !ok {
			tw.node.Target = nil
			delete(a.tweens, uid)
		}
	}
}

// Active returns the number of running tweens.
func (a *Animator) Active() int {
	return len(a.tweens)
}

func (a *Animator) Clear() {
	for _, tw := range a.tweens {
		tw.node.Target = nil
	}
	a.tweens = make(map[string]*tween)
}

// Run steps the animator on every tick until ctx is done. Each step runs
// with mu held; onFrame, when set, is called after the lock is released with
// the result of the step.
func (a *Animator) Run(ctx context.Context, interval time.Duration, mu sync.Locker, onFrame func(active bool)) {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mu.Lock()
			active := a.Step(now)
			mu.Unlock()
			if onFrame != nil {
				onFrame(active)
			}
		}
	}
}
