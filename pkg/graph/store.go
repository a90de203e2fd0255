package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

// DefaultStrength is assigned to connections whose backend edge carries none.
const DefaultStrength = 1.0

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the wall clock used by the UID generator.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the canonical in-memory graph of one explorer session: the
// instance map, the raw CI cache, the expanded-id set and the UID generator.
// It is not safe for concurrent use; callers serialize access.
type Store struct {
	instances map[string]*NodeInstance
	raw       map[int]*cmdb.Node
	expanded  map[int]struct{}
	seenPairs map[string]struct{}
	tracker   *ConnectionTracker

	now     func() time.Time
	counter uint64
	batch   int

	// skipDepth counts in-flight expansions; backend edges are ignored
	// while it is positive.
	skipDepth int
	// generation changes on every Clear so expansions begun before it can
	// tell that their skip raise was already dropped.
	generation uint64
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		instances: make(map[string]*NodeInstance),
		raw:       make(map[int]*cmdb.Node),
		expanded:  make(map[int]struct{}),
		seenPairs: make(map[string]struct{}),
		tracker:   NewConnectionTracker(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextUID builds a process-unique instance id from the clock, a monotonic
// counter, the CI id and the level.
func (s *Store) nextUID(id, level int) string {
	s.counter++
	return fmt.Sprintf("ci-%d-%d-%d-L%d", s.now().UnixNano(), s.counter, id, level)
}

// MergeNodes materializes every raw CI as a new node instance, appends it to
// g.Nodes and returns the new instances in input order.
func (s *Store) MergeNodes(g *Graph, raws []cmdb.Node, reg *TypeRegistry) []*NodeInstance {
	hasRoot := g.Root() != nil
	merged := make([]*NodeInstance, 0, len(raws))

	for i := range raws {
		raw := raws[i]
		inst := &NodeInstance{
			UID:    s.nextUID(raw.ID, raw.Level),
			ID:     raw.ID,
			Level:  raw.Level,
			Label:  raw.DisplayLabel(),
			Type:   raw.TypeLabel(),
			TypeID: raw.Type.ID,
			Color:  raw.Type.Color,
			Icon:   raw.Type.Icon,
			Fields: append([]cmdb.Field(nil), raw.Object.Fields...),
			Raw:    &raw,
		}

		if !hasRoot && raw.Direction == cmdb.DirectionRoot {
			inst.Root = true
			hasRoot = true
		}

		if reg != nil {
			if inst.Icon != "" || inst.Color != "" {
				reg.Record(inst.Type, TypeStyle{Icon: inst.Icon, Color: inst.Color})
			}
			if style, ok := reg.Lookup(inst.Type); ok {
				if inst.Icon == "" {
					inst.Icon = style.Icon
				}
				if inst.Color == "" {
					inst.Color = style.Color
				}
			}
		}

		s.instances[inst.UID] = inst
		s.raw[raw.ID] = &raw
		g.Nodes = append(g.Nodes, inst)
		merged = append(merged, inst)
	}

	if !hasRoot {
		for _, inst := range merged {
			if inst.Level == 0 {
				inst.Root = true
				break
			}
		}
	}
	return merged
}

// MergeEdges turns raw backend edges into connections between every pair of
// current instances of their endpoints whose levels are adjacent. Each
// unordered UID pair is materialized at most once over the store lifetime;
// repeats are only recorded in the tracker. Nothing happens while an
// expansion is in flight.
func (s *Store) MergeEdges(g *Graph, raws []cmdb.Edge) []*Connection {
	if s.SkipBackendEdges() || len(raws) == 0 {
		return nil
	}
	s.batch++

	byID := make(map[int][]*NodeInstance)
	for _, n := range g.Nodes {
		byID[n.ID] = append(byID[n.ID], n)
	}

	var added []*Connection
	for _, e := range raws {
		for _, a := range byID[e.From] {
			for _, b := range byID[e.To] {
				if absInt(a.Level-b.Level) != 1 {
					continue
				}
				lo, hi := a, b
				if lo.Level > hi.Level {
					lo, hi = hi, lo
				}
				conn := newConnection(lo, hi, relationFrom(e.Relation), e.Strength, e.DataFlow)
				if s.record(conn, false) {
					g.Connections = append(g.Connections, conn)
					added = append(added, conn)
				}
			}
		}
	}
	return added
}

// Connect adds a synthesized connection between two instances at adjacent
// levels. It returns false when the pair is already connected or the levels
// are not adjacent.
func (s *Store) Connect(g *Graph, a, b *NodeInstance, rel RelationMeta, strength float64, dataFlow bool) (*Connection, bool) {
	if absInt(a.Level-b.Level) != 1 {
		return nil, false
	}
	if a.Level > b.Level {
		a, b = b, a
	}
	conn := newConnection(a, b, rel, strength, dataFlow)
	if !s.record(conn, true) {
		return nil, false
	}
	g.Connections = append(g.Connections, conn)
	return conn, true
}

// record tracks conn and reports whether its pair is new.
func (s *Store) record(conn *Connection, synthesized bool) bool {
	key := PairKey(conn.FromUID, conn.ToUID)
	_, dup := s.seenPairs[key]
	s.tracker.Track(conn, s.batch, dup, synthesized)
	if dup {
		return false
	}
	s.seenPairs[key] = struct{}{}
	return true
}

func newConnection(from, to *NodeInstance, rel RelationMeta, strength float64, dataFlow bool) *Connection {
	if strength <= 0 {
		strength = DefaultStrength
	}
	return &Connection{
		FromUID:   from.UID,
		ToUID:     to.UID,
		FromID:    from.ID,
		ToID:      to.ID,
		FromLevel: from.Level,
		ToLevel:   to.Level,
		Relation:  rel,
		Valid:     true,
		Strength:  strength,
		DataFlow:  dataFlow,
	}
}

// RemoveNodeInstancesByUID removes the given instances and every connection
// touching them. It returns the number of instances removed.
func (s *Store) RemoveNodeInstancesByUID(g *Graph, uids []string) int {
	if len(uids) == 0 {
		return 0
	}
	doomed := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		doomed[uid] = struct{}{}
	}

	affected := make(map[int]struct{})
	removed := 0
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		n := g.Nodes[i]
		if _, ok := doomed[n.UID]; !ok {
			continue
		}
		delete(s.instances, n.UID)
		affected[n.ID] = struct{}{}
		g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
		removed++
	}

	for i := len(g.Connections) - 1; i >= 0; i-- {
		c := g.Connections[i]
		_, from := doomed[c.FromUID]
		_, to := doomed[c.ToUID]
		if from || to {
			g.Connections = append(g.Connections[:i], g.Connections[i+1:]...)
		}
	}

	s.tracker.RemoveUIDs(uids)
	for key := range s.seenPairs {
		a, b, _ := strings.Cut(key, "|")
		_, da := doomed[a]
		_, db := doomed[b]
		if da || db {
			delete(s.seenPairs, key)
		}
	}

	for id := range affected {
		s.RefreshExpanded(id)
		if len(s.InstancesOf(id)) == 0 {
			delete(s.raw, id)
		}
	}
	return removed
}

// IsExpanded reports whether any instance of the CI is expanded.
func (s *Store) IsExpanded(id int) bool {
	_, ok := s.expanded[id]
	return ok
}

// MarkExpanded records the CI as expanded.
func (s *Store) MarkExpanded(id int) {
	s.expanded[id] = struct{}{}
}

// RefreshExpanded recomputes the expanded flag of a CI from its instances.
func (s *Store) RefreshExpanded(id int) {
	for _, inst := range s.instances {
		if inst.ID == id && inst.Expanded {
			s.expanded[id] = struct{}{}
			return
		}
	}
	delete(s.expanded, id)
}

// ExpandedIDs returns the expanded CI ids in ascending order.
func (s *Store) ExpandedIDs() []int {
	ids := make([]int, 0, len(s.expanded))
	for id := range s.expanded {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Instance returns the instance registered under uid.
func (s *Store) Instance(uid string) (*NodeInstance, error) {
	inst, ok := s.instances[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, uid)
	}
	return inst, nil
}

// InstancesOf returns every instance of a CI ordered by level, then UID.
func (s *Store) InstancesOf(id int) []*NodeInstance {
	var out []*NodeInstance
	for _, inst := range s.instances {
		if inst.ID == id {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].UID < out[j].UID
	})
	return out
}

// RawNode returns the cached backend record of a CI.
func (s *Store) RawNode(id int) (*cmdb.Node, bool) {
	n, ok := s.raw[id]
	return n, ok
}

// Len returns the number of registered instances.
func (s *Store) Len() int {
	return len(s.instances)
}

func (s *Store) Tracker() *ConnectionTracker {
	return s.tracker
}

// SetSkipBackendEdges raises or lowers the skip flag. Calls nest: the flag
// stays raised until every raise has been matched by a lower.
func (s *Store) SetSkipBackendEdges(skip bool) {
	if skip {
		s.skipDepth++
		return
	}
	if s.skipDepth > 0 {
		s.skipDepth--
	}
}

func (s *Store) SkipBackendEdges() bool {
	return s.skipDepth > 0
}

// Clear drops every instance and connection record. The UID counter keeps
// running so ids stay unique for the process lifetime.
func (s *Store) Clear() {
	s.instances = make(map[string]*NodeInstance)
	s.raw = make(map[int]*cmdb.Node)
	s.expanded = make(map[int]struct{})
	s.seenPairs = make(map[string]struct{})
	s.tracker.Clear()
	s.batch = 0
	s.skipDepth = 0
	s.generation++
}

// Generation identifies the current content epoch of the store.
func (s *Store) Generation() uint64 {
	return s.generation
}
