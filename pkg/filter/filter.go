// Package filter derives the visible subset of an explorer graph from a
// free-text search, a set of selected CI types, an AND/OR combination mode
// and an optional connected-to-selection constraint. It holds no graph data
// between calls.
package filter

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/sanonone/cigraph/pkg/graph"
)

// Mode combines the selected types.
type Mode string

const (
	// ModeOR shows nodes reachable from the root through any selected type.
	ModeOR Mode = "OR"
	// ModeAND shows nodes reached by a single path that touches every
	// selected type.
	ModeAND Mode = "AND"
)

// ParseMode accepts "or"/"and" in any case. Anything else is OR.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeAND)) {
		return ModeAND
	}
	return ModeOR
}

// Criteria is the full filter state of a session.
type Criteria struct {
	Search        string   `json:"search"`
	Types         []string `json:"types"`
	Mode          Mode     `json:"mode"`
	ConnectedOnly bool     `json:"connected_only"`
	SelectedUID   string   `json:"selected_uid,omitempty"`
}

// Stats describes the work done by the type traversal.
type Stats struct {
	Enqueued    int `json:"enqueued"`
	MaxPerNode  int `json:"max_per_node"`
	TypeReached int `json:"type_reached"`
}

// Result is the visible subset of a graph.
type Result struct {
	Nodes       []*graph.NodeInstance
	Connections []*graph.Connection
	Stats       Stats

	visible map[string]struct{}
}

// IsVisible reports whether the instance survived the filter.
func (r *Result) IsVisible(uid string) bool {
	_, ok := r.visible[uid]
	return ok
}

// Len returns the number of visible nodes.
func (r *Result) Len() int {
	return len(r.Nodes)
}

// Apply computes the visible nodes and connections of g. Nodes keep the
// order of g.Nodes.
func Apply(g *graph.Graph, c Criteria) *Result {
	res := &Result{visible: make(map[string]struct{})}
	adj := adjacency(g)

	var reach map[string]struct{}
	switch {
	case len(c.Types) == 0:
	case c.Mode == ModeAND && len(c.Types) >= 2:
		reach = reachAll(g, adj, c.Types, &res.Stats)
	default:
		reach = reachAny(g, adj, c.Types, &res.Stats)
	}
	res.Stats.TypeReached = len(reach)

	var connected map[string]struct{}
	if c.ConnectedOnly && c.SelectedUID != "" {
		connected = connectedTo(g, c.SelectedUID)
	}

	needle := strings.ToLower(strings.TrimSpace(c.Search))
	for _, n := range g.Nodes {
		if reach != nil {
			if _, ok := reach[n.UID]; !ok {
				continue
			}
		}
		if connected != nil {
			if _, ok := connected[n.UID]; !ok {
				continue
			}
		}
		if !Matches(n, needle) {
			continue
		}
		res.visible[n.UID] = struct{}{}
		res.Nodes = append(res.Nodes, n)
	}

	for _, conn := range g.Connections {
		if !conn.Valid {
			continue
		}
		if res.IsVisible(conn.FromUID) && res.IsVisible(conn.ToUID) {
			res.Connections = append(res.Connections, conn)
		}
	}
	return res
}

// Matches reports whether the lower-cased needle occurs in the label, the
// type, the decimal id, or any field name or value of n.
func Matches(n *graph.NodeInstance, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(n.Label), needle) ||
		strings.Contains(strings.ToLower(n.Type), needle) ||
		strings.Contains(strconv.Itoa(n.ID), needle) {
		return true
	}
	for _, f := range n.Fields {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			return true
		}
		if f.Value != nil && strings.Contains(strings.ToLower(fmt.Sprint(f.Value)), needle) {
			return true
		}
	}
	return false
}

func adjacency(g *graph.Graph) map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, c := range g.Connections {
		if !c.Valid {
			continue
		}
		adj[c.FromUID] = append(adj[c.FromUID], c.ToUID)
		adj[c.ToUID] = append(adj[c.ToUID], c.FromUID)
	}
	return adj
}

// outward reports whether the hop from a to b moves away from the root.
// Type reachability only follows such hops, so a type is credited to the
// instances below the one that carries it.
func outward(a, b *graph.NodeInstance) bool {
	if a == nil {
		return false
	}
	return absInt(b.Level) > absInt(a.Level)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// seeds returns the traversal start points: the root, or every node when
// the graph has none.
func seeds(g *graph.Graph) []*graph.NodeInstance {
	if root := g.Root(); root != nil {
		return []*graph.NodeInstance{root}
	}
	return g.Nodes
}

// reachAny is the OR traversal: breadth-first from the root along outward
// hops, admitting a neighbor only when its type is selected.
func reachAny(g *graph.Graph, adj map[string][]string, types []string, st *Stats) map[string]struct{} {
	selected := make(map[string]struct{}, len(types))
	for _, t := range types {
		selected[t] = struct{}{}
	}
	index := g.Index()

	visited := make(map[string]struct{})
	var queue []string
	for _, s := range seeds(g) {
		if !s.Root {
			if _, ok := selected[s.Type]; !ok {
				continue
			}
		}
		visited[s.UID] = struct{}{}
		queue = append(queue, s.UID)
	}
	st.Enqueued = len(queue)
	if st.Enqueued > 0 {
		st.MaxPerNode = 1
	}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, next := range adj[curr] {
			if _, seen := visited[next]; seen {
				continue
			}
			n, ok := index[next]
			if !ok || !outward(index[curr], n) {
				continue
			}
			if _, ok := selected[n.Type]; !ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
			st.Enqueued++
		}
	}
	return visited
}

// typeSet is a bitset over the selected types.
type typeSet []uint64

func newTypeSet(k int) typeSet {
	return make(typeSet, (k+63)/64)
}

func (s typeSet) with(i int) typeSet {
	out := append(typeSet(nil), s...)
	if i >= 0 {
		out[i/64] |= 1 << (uint(i) % 64)
	}
	return out
}

func (s typeSet) count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

func (s typeSet) complete(k int) bool {
	return s.count() == k
}

// subsetOf reports whether every type in s is also in o.
func (s typeSet) subsetOf(o typeSet) bool {
	for i, w := range s {
		if w&^o[i] != 0 {
			return false
		}
	}
	return true
}

// reachAll is the AND traversal. Each node keeps the antichain of type sets
// collected on paths to it: a new set is enqueued only when no recorded set
// already contains it, and recorded sets it contains are dropped. Sets of
// equal size never block each other. A node is visible once one of its sets
// holds every selected type; the root always is.
func reachAll(g *graph.Graph, adj map[string][]string, types []string, st *Stats) map[string]struct{} {
	k := 0
	slot := make(map[string]int, len(types))
	for _, t := range types {
		if _, dup := slot[t]; !dup {
			slot[t] = k
			k++
		}
	}
	slotOf := func(n *graph.NodeInstance) int {
		if i, ok := slot[n.Type]; ok {
			return i
		}
		return -1
	}
	index := g.Index()

	type item struct {
		uid string
		set typeSet
	}
	front := make(map[string][]typeSet)
	enqueues := make(map[string]int)
	var queue []item

	// record adds set to the antichain of uid. It returns false when a
	// recorded set already covers it.
	record := func(uid string, set typeSet) bool {
		kept := front[uid][:0:0]
		for _, prev := range front[uid] {
			if set.subsetOf(prev) {
				return false
			}
			if !prev.subsetOf(set) {
				kept = append(kept, prev)
			}
		}
		front[uid] = append(kept, set)
		return true
	}
	covered := func(uid string, set typeSet) bool {
		for _, prev := range front[uid] {
			if set.subsetOf(prev) && !prev.subsetOf(set) {
				return true
			}
		}
		return false
	}
	push := func(uid string, set typeSet) {
		if !record(uid, set) {
			return
		}
		enqueues[uid]++
		st.Enqueued++
		if enqueues[uid] > st.MaxPerNode {
			st.MaxPerNode = enqueues[uid]
		}
		queue = append(queue, item{uid: uid, set: set})
	}

	for _, s := range seeds(g) {
		i := slotOf(s)
		if !s.Root && i < 0 {
			continue
		}
		push(s.UID, newTypeSet(k).with(i))
	}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if covered(curr.uid, curr.set) {
			// A strict superset was recorded after this one was queued.
			continue
		}
		for _, next := range adj[curr.uid] {
			n, ok := index[next]
			if !ok || !outward(index[curr.uid], n) {
				continue
			}
			i := slotOf(n)
			if i < 0 {
				continue
			}
			push(next, curr.set.with(i))
		}
	}

	visible := make(map[string]struct{})
	for uid, sets := range front {
		for _, set := range sets {
			if set.complete(k) {
				visible[uid] = struct{}{}
				break
			}
		}
	}
	if root := g.Root(); root != nil {
		visible[root.UID] = struct{}{}
	}
	return visible
}

// connectedTo returns the instances in the connected component of uid over
// valid connections. It returns nil when uid is unknown.
func connectedTo(g *graph.Graph, uid string) map[string]struct{} {
	ids := make(map[string]int64, len(g.Nodes))
	uids := make([]string, len(g.Nodes))
	ug := simple.NewUndirectedGraph()
	for i, n := range g.Nodes {
		ids[n.UID] = int64(i)
		uids[i] = n.UID
		ug.AddNode(simple.Node(i))
	}

	from, ok := ids[uid]
	if !ok {
		return nil
	}

	for _, c := range g.Connections {
		if !c.Valid {
			continue
		}
		a, okA := ids[c.FromUID]
		b, okB := ids[c.ToUID]
		if !okA || !okB || a == b {
			continue
		}
		ug.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
	}

	out := make(map[string]struct{})
	bf := traverse.BreadthFirst{
		Visit: func(n gonumgraph.Node) {
			out[uids[n.ID()]] = struct{}{}
		},
	}
	bf.Walk(ug, ug.Node(from), nil)
	return out
}
