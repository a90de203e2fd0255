package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

// Querier is the external CI/relation query collaborator.
type Querier interface {
	LoadWithRoot(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error)
	ExpandChild(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error)
	ExpandParent(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error)
}

// QueryFilters are the type and relation id allow-lists forwarded to the
// backend. An empty list accepts everything.
type QueryFilters struct {
	TypeIDs     []int `json:"type_ids,omitempty"`
	RelationIDs []int `json:"relation_ids,omitempty"`
}

func (f QueryFilters) allowsType(typeID int) bool {
	return len(f.TypeIDs) == 0 || slices.Contains(f.TypeIDs, typeID)
}

// Expander grows and shrinks the graph around node instances.
type Expander struct {
	store   *Store
	querier Querier
}

// NewExpander binds an expander to a store and a backend.
func NewExpander(store *Store, q Querier) *Expander {
	return &Expander{store: store, querier: q}
}

func (e *Expander) Store() *Store {
	return e.store
}

// LoadRoot replaces the content of g with the root CI and the first layer
// returned by the backend. It returns the root instance.
func (e *Expander) LoadRoot(ctx context.Context, g *Graph, rootID int, f QueryFilters, reg *TypeRegistry) (*NodeInstance, error) {
	resp, err := e.querier.LoadWithRoot(ctx, rootID, f.TypeIDs, f.RelationIDs)
	if err != nil {
		return nil, fmt.Errorf("load root %d: %w", rootID, err)
	}

	e.store.Clear()
	g.Nodes = nil
	g.Connections = nil

	raws := make([]cmdb.Node, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		isRoot := n.Direction == cmdb.DirectionRoot || (n.ID == rootID && n.Level == 0)
		if !isRoot && !f.allowsType(n.Type.ID) {
			continue
		}
		switch {
		case isRoot:
			n.Direction = cmdb.DirectionRoot
			n.Level = 0
		case n.Direction == cmdb.DirectionChild && n.Level <= 0:
			n.Level = 1
		case n.Direction == cmdb.DirectionParent && n.Level >= 0:
			n.Level = -1
		}
		raws = append(raws, n)
	}

	e.store.MergeNodes(g, raws, reg)
	e.store.MergeEdges(g, resp.Edges)

	root := g.Root()
	if root == nil {
		return nil, fmt.Errorf("load root %d: backend returned no root node", rootID)
	}
	if len(g.Nodes) > 1 {
		root.Expanded = true
		e.store.MarkExpanded(root.ID)
	}
	return root, nil
}

// Expansion is one in-flight expansion of a node instance. It is created by
// BeginExpansion, filled by FetchLayers outside of any lock and consumed by
// ApplyLayers.
type Expansion struct {
	UID        string
	ID         int
	Level      int
	Directions []string
	Filters    QueryFilters

	instance   *NodeInstance
	layers     []*cmdb.GraphResponse
	generation uint64
	finished   bool
}

// directionsOf returns the fetch directions for an instance, children first.
func directionsOf(inst *NodeInstance) []string {
	switch inst.Direction() {
	case cmdb.DirectionRoot:
		return []string{cmdb.DirectionChild, cmdb.DirectionParent}
	case cmdb.DirectionParent:
		return []string{cmdb.DirectionParent}
	default:
		return []string{cmdb.DirectionChild}
	}
}

// BeginExpansion flags the instance as loading and expanded and raises the
// store's skip flag. Every successful call must be paired with
// FinishExpansion.
func (e *Expander) BeginExpansion(inst *NodeInstance, f QueryFilters) (*Expansion, error) {
	if inst == nil {
		return nil, ErrUnknownInstance
	}
	if inst.Loading {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoading, inst.UID)
	}
	inst.Loading = true
	inst.Expanded = true
	e.store.SetSkipBackendEdges(true)

	dirs := directionsOf(inst)
	return &Expansion{
		UID:        inst.UID,
		ID:         inst.ID,
		Level:      inst.Level,
		Directions: dirs,
		Filters:    f,
		instance:   inst,
		layers:     make([]*cmdb.GraphResponse, len(dirs)),
		generation: e.store.Generation(),
	}, nil
}

// FetchLayers queries the backend for every direction of the expansion. It
// touches neither the graph nor the store. The root fetches both directions
// concurrently.
func (e *Expander) FetchLayers(ctx context.Context, x *Expansion) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i, dir := range x.Directions {
		eg.Go(func() error {
			var (
				resp *cmdb.GraphResponse
				err  error
			)
			if dir == cmdb.DirectionParent {
				resp, err = e.querier.ExpandParent(ctx, x.ID, x.Filters.TypeIDs, x.Filters.RelationIDs)
			} else {
				resp, err = e.querier.ExpandChild(ctx, x.ID, x.Filters.TypeIDs, x.Filters.RelationIDs)
			}
			if err != nil {
				return fmt.Errorf("expand %s of %d: %w", dir, x.ID, err)
			}
			x.layers[i] = resp
			return nil
		})
	}
	return eg.Wait()
}

// ApplyLayers merges the fetched layers into g and synthesizes one
// connection between the expanding instance and each new instance. It
// returns the new instances. Results are discarded when the expanding
// instance was removed while the fetch was in flight.
func (e *Expander) ApplyLayers(g *Graph, x *Expansion, reg *TypeRegistry) ([]*NodeInstance, error) {
	inst, err := e.store.Instance(x.UID)
	if err != nil {
		return nil, err
	}

	var merged []*NodeInstance
	for i, dir := range x.Directions {
		resp := x.layers[i]
		if resp == nil {
			continue
		}

		level := inst.Level + 1
		if dir == cmdb.DirectionParent {
			level = inst.Level - 1
		}

		seen := make(map[int]struct{})
		raws := make([]cmdb.Node, 0, len(resp.Nodes))
		for _, n := range resp.Nodes {
			if n.Direction != "" && n.Direction != dir {
				continue
			}
			if !x.Filters.allowsType(n.Type.ID) {
				continue
			}
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			n.Level = level
			n.Direction = dir
			raws = append(raws, n)
		}

		added := e.store.MergeNodes(g, raws, reg)
		for _, n := range added {
			edge := findEdge(resp.Edges, inst.ID, n.ID)
			var (
				rel      RelationMeta
				strength float64
				dataFlow bool
			)
			if edge != nil {
				rel = relationFrom(edge.Relation)
				strength = edge.Strength
				dataFlow = edge.DataFlow
			}
			e.store.Connect(g, inst, n, rel, strength, dataFlow)
		}
		merged = append(merged, added...)
	}
	return merged, nil
}

func findEdge(edges []cmdb.Edge, a, b int) *cmdb.Edge {
	for i := range edges {
		e := &edges[i]
		if e.From == a && e.To == b || e.From == b && e.To == a {
			return e
		}
	}
	return nil
}

// FinishExpansion clears the loading flag and lowers the skip flag. On
// failure the instance is rolled back to not expanded. It is safe to call
// more than once.
func (e *Expander) FinishExpansion(x *Expansion, err error) {
	if x == nil || x.finished {
		return
	}
	x.finished = true
	if x.generation == e.store.Generation() {
		e.store.SetSkipBackendEdges(false)
	}

	inst := x.instance
	inst.Loading = false
	if err != nil {
		inst.Expanded = false
		e.store.RefreshExpanded(inst.ID)
		slog.Warn("Expansion failed", "uid", x.UID, "id", x.ID, "error", err)
		return
	}
	if _, ok := e.store.instances[x.UID]; ok {
		e.store.MarkExpanded(inst.ID)
	}
}

// ExpandNodeInstance fetches and merges the next layer around inst.
func (e *Expander) ExpandNodeInstance(ctx context.Context, g *Graph, inst *NodeInstance, f QueryFilters, reg *TypeRegistry) (added []*NodeInstance, err error) {
	x, err := e.BeginExpansion(inst, f)
	if err != nil {
		return nil, err
	}
	defer func() { e.FinishExpansion(x, err) }()

	if err = e.FetchLayers(ctx, x); err != nil {
		return nil, err
	}
	return e.ApplyLayers(g, x, reg)
}

// Descendants returns the UIDs of every instance reachable from inst while
// moving strictly away from the root, in breadth-first order.
func (e *Expander) Descendants(g *Graph, inst *NodeInstance) []string {
	adj := make(map[string][]*Connection)
	levels := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		levels[n.UID] = n.Level
	}
	for _, c := range g.Connections {
		if !c.Valid {
			continue
		}
		adj[c.FromUID] = append(adj[c.FromUID], c)
		adj[c.ToUID] = append(adj[c.ToUID], c)
	}

	outward := func(from, to string) bool {
		lt, ok := levels[to]
		if !ok {
			return false
		}
		return absInt(lt) > absInt(levels[from])
	}

	visited := map[string]struct{}{inst.UID: {}}
	var queue, out []string
	queue = append(queue, inst.UID)
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, c := range adj[curr] {
			next := c.Other(curr)
			if _, seen := visited[next]; seen || !outward(curr, next) {
				continue
			}
			visited[next] = struct{}{}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// detached drops from reach the instances that another expanded instance, or the
// root, still links from the root side. Expanded instances that are kept
// hold their own links in turn.
func detached(g *Graph, inst *NodeInstance, reach []string) []string {
	if len(reach) == 0 {
		return reach
	}
	index := g.Index()
	drop := make(map[string]struct{}, len(reach))
	for _, uid := range reach {
		drop[uid] = struct{}{}
	}
	anchors := func(uid string) bool {
		if uid == inst.UID {
			return false
		}
		if _, ok := drop[uid]; ok {
			return false
		}
		n, ok := index[uid]
		return ok && (n.Root || n.Expanded)
	}

	for changed := true; changed; {
		changed = false
		for _, c := range g.Connections {
			if !c.Valid {
				continue
			}
			from, to := index[c.FromUID], index[c.ToUID]
			if from == nil || to == nil {
				continue
			}
			inner, outer := from, to
			if absInt(inner.Level) > absInt(outer.Level) {
				inner, outer = outer, inner
			}
			if absInt(inner.Level) == absInt(outer.Level) {
				continue
			}
			if _, ok := drop[outer.UID]; !ok || !anchors(inner.UID) {
				continue
			}
			delete(drop, outer.UID)
			changed = true
		}
	}

	out := make([]string, 0, len(drop))
	for _, uid := range reach {
		if _, ok := drop[uid]; ok {
			out = append(out, uid)
		}
	}
	return out
}

// CollapseNodeInstance removes the away-from-root subtree of inst and clears
// its expanded flag. Instances that an expanded instance elsewhere in the
// graph still links are kept. It returns the removed UIDs.
func (e *Expander) CollapseNodeInstance(g *Graph, inst *NodeInstance) []string {
	removed := detached(g, inst, e.Descendants(g, inst))
	e.store.RemoveNodeInstancesByUID(g, removed)
	inst.Expanded = false
	e.store.RefreshExpanded(inst.ID)
	return removed
}
