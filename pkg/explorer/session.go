// Package explorer runs the control flow of one CI relationship graph view:
// expand or collapse, merge, validate, filter, lay out, render geometry and
// project through the viewport.
//
// A Session plays the role of the single UI thread. Every mutation holds the
// session lock, except the backend fetch of an expansion which runs with the
// lock released so the view stays responsive while it is in flight.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sanonone/cigraph/pkg/cmdb"
	"github.com/sanonone/cigraph/pkg/filter"
	"github.com/sanonone/cigraph/pkg/geometry"
	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/layout"
	"github.com/sanonone/cigraph/pkg/metrics"
	"github.com/sanonone/cigraph/pkg/viewport"
)

// Options configures new sessions.
type Options struct {
	Layout   layout.Config   `yaml:"layout"`
	Viewport viewport.Config `yaml:"viewport"`
	// Clock overrides time.Now, for tests.
	Clock func() time.Time `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		Layout:   layout.DefaultConfig(),
		Viewport: viewport.DefaultConfig(),
	}
}

// Session is one explorer view over the CMDB.
type Session struct {
	mu sync.Mutex

	id       string
	store    *graph.Store
	expander *graph.Expander
	graph    *graph.Graph
	registry *graph.TypeRegistry

	criteria filter.Criteria
	query    graph.QueryFilters
	visible  *filter.Result

	layout *layout.Engine
	view   *viewport.Viewport

	rootID  int
	pending map[string]bool
	now     func() time.Time
}

// NewSession creates an empty session bound to a backend.
func NewSession(id string, q graph.Querier, opts Options) *Session {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	store := graph.NewStore(graph.WithClock(now))
	s := &Session{
		id:       id,
		store:    store,
		expander: graph.NewExpander(store, q),
		graph:    &graph.Graph{},
		registry: graph.NewTypeRegistry(),
		criteria: filter.Criteria{Mode: filter.ModeOR},
		layout:   layout.NewEngine(opts.Layout),
		view:     viewport.New(opts.Viewport),
		pending:  make(map[string]bool),
		now:      now,
	}
	s.visible = filter.Apply(s.graph, s.criteria)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Query returns the backend filters the session loads with.
func (s *Session) Query() graph.QueryFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Open loads rootID and its first layer, replacing whatever the session
// showed before.
func (s *Session) Open(ctx context.Context, rootID int) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx, rootID)
}

func (s *Session) openLocked(ctx context.Context, rootID int) (*View, error) {
	start := time.Now()
	root, err := s.expander.LoadRoot(ctx, s.graph, rootID, s.query, s.registry)
	metrics.ExpansionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExpansionsTotal.WithLabelValues("load", "error").Inc()
		slog.Warn("Root load failed", "session", s.id, "root_id", rootID, "error", err)
		return nil, err
	}
	metrics.ExpansionsTotal.WithLabelValues("load", "ok").Inc()

	s.rootID = rootID
	s.pending = make(map[string]bool)
	s.criteria.SelectedUID = ""
	s.layout.Reset()
	s.layout.Animator().Clear()

	now := s.now()
	s.refreshLocked(now)
	s.view.Fit(s.visible.Nodes, now)

	slog.Info("Graph opened", "session", s.id, "root_id", rootID, "root_uid", root.UID, "nodes", len(s.graph.Nodes))
	return s.snapshotLocked(), nil
}

// Expand fetches the next layer around the instance. The fetch runs without
// the session lock; a collapse requested meanwhile is applied once the merge
// is done.
func (s *Session) Expand(ctx context.Context, uid string) (*View, error) {
	s.mu.Lock()
	inst, err := s.store.Instance(uid)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if inst.Loading && s.pending[uid] {
		// The newest request wins over the deferred collapse.
		delete(s.pending, uid)
		v := s.snapshotLocked()
		s.mu.Unlock()
		return v, nil
	}
	if inst.Expanded && !inst.Loading {
		v := s.snapshotLocked()
		s.mu.Unlock()
		return v, nil
	}
	x, err := s.expander.BeginExpansion(inst, s.query)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.refreshLocked(s.now())
	s.mu.Unlock()

	start := time.Now()
	fetchErr := s.expander.FetchLayers(ctx, x)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishExpansionLocked(x, fetchErr, start)
}

func expansionLabel(x *graph.Expansion) string {
	if len(x.Directions) > 1 {
		return cmdb.DirectionRoot
	}
	return x.Directions[0]
}

func (s *Session) finishExpansionLocked(x *graph.Expansion, err error, start time.Time) (*View, error) {
	var added []*graph.NodeInstance
	if err == nil {
		added, err = s.expander.ApplyLayers(s.graph, x, s.registry)
		if errors.Is(err, graph.ErrUnknownInstance) {
			// Removed while the fetch was in flight: nothing to attach to.
			slog.Debug("Expansion result discarded", "session", s.id, "uid", x.UID)
			err = nil
		}
	}
	s.expander.FinishExpansion(x, err)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ExpansionsTotal.WithLabelValues(expansionLabel(x), outcome).Inc()
	metrics.ExpansionDuration.Observe(time.Since(start).Seconds())

	if s.pending[x.UID] {
		delete(s.pending, x.UID)
		if inst, ierr := s.store.Instance(x.UID); ierr == nil {
			s.expander.CollapseNodeInstance(s.graph, inst)
		}
	}

	now := s.now()
	s.refreshLocked(now)
	if err != nil {
		return s.snapshotLocked(), err
	}
	slog.Debug("Expansion merged", "session", s.id, "uid", x.UID, "added", len(added))
	return s.snapshotLocked(), nil
}

// Collapse removes the subtree behind the instance. On an instance that is
// still loading the collapse is deferred until its merge completes.
func (s *Session) Collapse(uid string) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.store.Instance(uid)
	if err != nil {
		return nil, err
	}
	if inst.Loading {
		s.pending[uid] = true
		return s.snapshotLocked(), nil
	}
	removed := s.expander.CollapseNodeInstance(s.graph, inst)
	slog.Debug("Collapsed", "session", s.id, "uid", uid, "removed", len(removed))

	now := s.now()
	s.refreshLocked(now)
	return s.snapshotLocked(), nil
}

// Toggle collapses an expanded instance and expands any other one. On a
// loading instance it flips the deferred collapse.
func (s *Session) Toggle(ctx context.Context, uid string) (*View, error) {
	s.mu.Lock()
	inst, err := s.store.Instance(uid)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	switch {
	case inst.Loading:
		if s.pending[uid] {
			delete(s.pending, uid)
		} else {
			s.pending[uid] = true
		}
		v := s.snapshotLocked()
		s.mu.Unlock()
		return v, nil
	case inst.Expanded:
		s.mu.Unlock()
		return s.Collapse(uid)
	}
	s.mu.Unlock()
	return s.Expand(ctx, uid)
}

// SetCriteria replaces the client-side filter.
func (s *Session) SetCriteria(c filter.Criteria) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.SelectedUID != "" {
		if _, err := s.store.Instance(c.SelectedUID); err != nil {
			return nil, err
		}
	}
	c.Mode = filter.ParseMode(string(c.Mode))
	s.criteria = c

	now := s.now()
	s.refreshLocked(now)
	return s.snapshotLocked(), nil
}

// SetQueryFilters replaces the backend type and relation allow-lists and
// reloads the current root with them.
func (s *Session) SetQueryFilters(ctx context.Context, f graph.QueryFilters) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.query = f
	if s.rootID == 0 {
		return s.snapshotLocked(), nil
	}
	return s.openLocked(ctx, s.rootID)
}

// ApplyProfile loads the filters of a stored profile.
func (s *Session) ApplyProfile(ctx context.Context, p cmdb.FilterProfile) (*View, error) {
	slog.Info("Applying filter profile", "session", s.id, "profile", p.Name, "public_id", p.PublicID)
	return s.SetQueryFilters(ctx, graph.QueryFilters{TypeIDs: p.TypesFilter, RelationIDs: p.RelationsFilter})
}

// Select marks an instance as the current selection and centers it. An
// empty uid clears the selection.
func (s *Session) Select(uid string) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uid != "" {
		inst, err := s.store.Instance(uid)
		if err != nil {
			return nil, err
		}
		s.view.CenterOn(inst)
	}
	s.criteria.SelectedUID = uid

	now := s.now()
	s.refreshLocked(now)
	return s.snapshotLocked(), nil
}

// ViewportAction is one pan/zoom/fit/resize/center request.
type ViewportAction struct {
	Action string  `json:"action"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Factor float64 `json:"factor,omitempty"`
	Zoom   float64 `json:"zoom,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	UID    string  `json:"uid,omitempty"`
}

// ErrUnknownAction is returned for an unsupported viewport action.
var ErrUnknownAction = errors.New("unknown viewport action")

// Viewport applies a viewport action. It never changes graph content.
func (s *Session) Viewport(a ViewportAction) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch a.Action {
	case "pan":
		s.view.Pan(a.DX, a.DY)
	case "zoom":
		switch {
		case a.Zoom > 0:
			s.view.ZoomTo(a.Zoom, now)
		case a.Factor > 0:
			s.view.ZoomAt(a.Factor, a.X, a.Y, now)
		default:
			return nil, fmt.Errorf("%w: zoom needs zoom or factor", ErrUnknownAction)
		}
	case "zoom_in":
		s.view.ZoomIn(now)
	case "zoom_out":
		s.view.ZoomOut(now)
	case "fit":
		s.view.Fit(s.visible.Nodes, now)
	case "resize":
		s.view.Resize(a.Width, a.Height)
	case "center":
		inst, err := s.store.Instance(a.UID)
		if err != nil {
			return nil, err
		}
		s.view.CenterOn(inst)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
	}
	return s.snapshotLocked(), nil
}

// Step advances node and zoom animations to now. It reports whether
// anything is still moving.
func (s *Session) Step(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(now)
}

func (s *Session) stepLocked(now time.Time) bool {
	nodes := s.layout.Animator().Step(now)
	zoom := s.view.Step(now)
	return nodes || zoom
}

// Animate drives node animations on a ticker until ctx is done. onFrame is
// called after each tick with the lock released.
func (s *Session) Animate(ctx context.Context, interval time.Duration, onFrame func(active bool)) {
	s.layout.Animator().Run(ctx, interval, &s.mu, onFrame)
}

// View advances animations to now and returns the render snapshot.
func (s *Session) View(now time.Time) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepLocked(now)
	return s.snapshotLocked()
}

// History returns every connection recorded by the tracker, in order.
func (s *Session) History() []graph.TrackedEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Tracker().History()
}

// Lookup returns the tracker records touching uid.
func (s *Session) Lookup(uid string) []graph.TrackedEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Tracker().Lookup(uid)
}

// Size returns the number of node instances and connections held.
func (s *Session) Size() (nodes, connections int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.graph.Nodes), len(s.graph.Connections)
}

// refreshLocked runs the derivation pipeline after a mutation.
func (s *Session) refreshLocked(now time.Time) {
	// 1. Drop dangling and non-adjacent connections.
	s.graph.Connections = geometry.ValidateConnections(s.graph.Connections, s.graph.Index())

	// 2. Filter.
	s.visible = filter.Apply(s.graph, s.criteria)

	// 3. Lay out what is visible.
	s.layout.Apply(s.visible.Nodes, s.visible.Connections, now)
}
