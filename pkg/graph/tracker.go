package graph

import (
	"github.com/tidwall/btree"
)

// TrackedEdge is one historical record of a connection merged into the graph.
// Duplicates across merge batches are retained; the tracker is expansion
// history, not the visible edge list.
type TrackedEdge struct {
	Seq         uint64       `json:"seq"`
	Batch       int          `json:"batch"`
	FromUID     string       `json:"from_uid"`
	ToUID       string       `json:"to_uid"`
	FromID      int          `json:"from_id"`
	ToID        int          `json:"to_id"`
	Relation    RelationMeta `json:"relation"`
	Duplicate   bool         `json:"duplicate,omitempty"`
	Synthesized bool         `json:"synthesized,omitempty"`
}

// trackerKey orders records by endpoint UID, then by sequence number.
// Every record is stored under both of its endpoint UIDs.
type trackerKey struct {
	UID  string
	Seq  uint64
	Edge *TrackedEdge
}

func trackerKeyLess(a, b trackerKey) bool {
	if a.UID != b.UID {
		return a.UID < b.UID
	}
	return a.Seq < b.Seq
}

// ConnectionTracker indexes relationship records by the instance UIDs of
// their endpoints.
type ConnectionTracker struct {
	index *btree.BTreeG[trackerKey]
	seq   uint64
}

// NewConnectionTracker returns an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		index: btree.NewBTreeG[trackerKey](trackerKeyLess),
	}
}

// Track records a connection under both endpoint UIDs.
func (t *ConnectionTracker) Track(c *Connection, batch int, duplicate, synthesized bool) TrackedEdge {
	t.seq++
	rec := &TrackedEdge{
		Seq:         t.seq,
		Batch:       batch,
		FromUID:     c.FromUID,
		ToUID:       c.ToUID,
		FromID:      c.FromID,
		ToID:        c.ToID,
		Relation:    c.Relation,
		Duplicate:   duplicate,
		Synthesized: synthesized,
	}
	t.index.Set(trackerKey{UID: c.FromUID, Seq: rec.Seq, Edge: rec})
	if c.ToUID != c.FromUID {
		t.index.Set(trackerKey{UID: c.ToUID, Seq: rec.Seq, Edge: rec})
	}
	return *rec
}

// Lookup returns every record touching uid, oldest first.
func (t *ConnectionTracker) Lookup(uid string) []TrackedEdge {
	var out []TrackedEdge
	t.index.Ascend(trackerKey{UID: uid}, func(k trackerKey) bool {
		if k.UID != uid {
			return false
		}
		out = append(out, *k.Edge)
		return true
	})
	return out
}

// RemoveUIDs drops every record touching one of the given UIDs, including
// the mirror entry stored under the opposite endpoint.
func (t *ConnectionTracker) RemoveUIDs(uids []string) int {
	var doomed []trackerKey
	seen := make(map[uint64]struct{})
	for _, uid := range uids {
		t.index.Ascend(trackerKey{UID: uid}, func(k trackerKey) bool {
			if k.UID != uid {
				return false
			}
			if _, ok := seen[k.Seq]; ok {
				return true
			}
			seen[k.Seq] = struct{}{}
			doomed = append(doomed, trackerKey{UID: k.Edge.FromUID, Seq: k.Seq})
			if k.Edge.ToUID != k.Edge.FromUID {
				doomed = append(doomed, trackerKey{UID: k.Edge.ToUID, Seq: k.Seq})
			}
			return true
		})
	}
	for _, k := range doomed {
		t.index.Delete(k)
	}
	return len(seen)
}

// Len returns the number of distinct records.
func (t *ConnectionTracker) Len() int {
	return len(t.History())
}

// History returns every record ordered by sequence number.
func (t *ConnectionTracker) History() []TrackedEdge {
	bySeq := make(map[uint64]*TrackedEdge)
	t.index.Scan(func(k trackerKey) bool {
		bySeq[k.Seq] = k.Edge
		return true
	})

	out := make([]TrackedEdge, 0, len(bySeq))
	for seq := uint64(1); seq <= t.seq; seq++ {
		if e, ok := bySeq[seq]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Clear removes every record.
func (t *ConnectionTracker) Clear() {
	t.index.Clear()
}
