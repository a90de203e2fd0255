package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

type fakeQuerier struct {
	mu       sync.Mutex
	roots    map[int]*cmdb.GraphResponse
	children map[int]*cmdb.GraphResponse
	parents  map[int]*cmdb.GraphResponse
	childErr error
	calls    []string
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		roots:    map[int]*cmdb.GraphResponse{},
		children: map[int]*cmdb.GraphResponse{},
		parents:  map[int]*cmdb.GraphResponse{},
	}
}

func (f *fakeQuerier) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeQuerier) LoadWithRoot(_ context.Context, id int, _, _ []int) (*cmdb.GraphResponse, error) {
	f.record(fmt.Sprintf("root:%d", id))
	if r, ok := f.roots[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("ci %d not found", id)
}

func (f *fakeQuerier) ExpandChild(_ context.Context, id int, _, _ []int) (*cmdb.GraphResponse, error) {
	f.record(fmt.Sprintf("child:%d", id))
	if f.childErr != nil {
		return nil, f.childErr
	}
	if r, ok := f.children[id]; ok {
		return r, nil
	}
	return &cmdb.GraphResponse{}, nil
}

func (f *fakeQuerier) ExpandParent(_ context.Context, id int, _, _ []int) (*cmdb.GraphResponse, error) {
	f.record(fmt.Sprintf("parent:%d", id))
	if r, ok := f.parents[id]; ok {
		return r, nil
	}
	return &cmdb.GraphResponse{}, nil
}

func layerOf(dir string, ids ...int) *cmdb.GraphResponse {
	resp := &cmdb.GraphResponse{}
	for _, id := range ids {
		resp.Nodes = append(resp.Nodes, rawNode(id, 0, dir, fmt.Sprintf("Type%d", id%3), id%3))
	}
	return resp
}

// idLevels returns the sorted "<id>@<level>" multiset of a graph.
func idLevels(g *Graph) []string {
	out := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, fmt.Sprintf("%d@%d", n.ID, n.Level))
	}
	sort.Strings(out)
	return out
}

func instanceOf(t *testing.T, g *Graph, id, level int) *NodeInstance {
	t.Helper()
	for _, n := range g.Nodes {
		if n.ID == id && n.Level == level {
			return n
		}
	}
	t.Fatalf("no instance of %d at level %d", id, level)
	return nil
}

func TestExpandCollapseScenario(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	q.children[1] = &cmdb.GraphResponse{
		Nodes: []cmdb.Node{rawNode(2, 1, cmdb.DirectionChild, "App", 1)},
		Edges: []cmdb.Edge{{From: 1, To: 2, Relation: cmdb.Relation{ID: 4, Label: "hosts"}}},
	}

	s := NewStore()
	e := NewExpander(s, q)
	g := &Graph{}
	ctx := context.Background()

	root, err := e.LoadRoot(ctx, g, 1, QueryFilters{}, NewTypeRegistry())
	require.NoError(t, err)
	assert.False(t, root.Expanded)

	added, err := e.ExpandNodeInstance(ctx, g, root, QueryFilters{}, NewTypeRegistry())
	require.NoError(t, err)
	require.Len(t, added, 1)

	node2 := added[0]
	assert.Equal(t, 2, node2.ID)
	assert.Equal(t, 1, node2.Level)
	require.Len(t, g.Connections, 1)
	assert.Equal(t, root.UID, g.Connections[0].FromUID)
	assert.Equal(t, node2.UID, g.Connections[0].ToUID)
	assert.Equal(t, "hosts", g.Connections[0].Relation.Label)

	assert.True(t, root.Expanded)
	assert.False(t, root.Loading)
	assert.True(t, s.IsExpanded(1))
	assert.False(t, s.SkipBackendEdges())

	removed := e.CollapseNodeInstance(g, root)
	assert.Equal(t, []string{node2.UID}, removed)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Connections)
	assert.False(t, root.Expanded)
	assert.False(t, s.IsExpanded(1))
}

func TestExpandRootFetchesBothDirections(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	q.children[1] = layerOf(cmdb.DirectionChild, 2, 3)
	q.parents[1] = layerOf(cmdb.DirectionParent, 10)

	e := NewExpander(NewStore(), q)
	g := &Graph{}
	root, err := e.LoadRoot(context.Background(), g, 1, QueryFilters{}, nil)
	require.NoError(t, err)

	added, err := e.ExpandNodeInstance(context.Background(), g, root, QueryFilters{}, nil)
	require.NoError(t, err)
	require.Len(t, added, 3)

	// Children are merged before parents.
	assert.Equal(t, []int{2, 3, 10}, []int{added[0].ID, added[1].ID, added[2].ID})
	assert.Equal(t, []string{"10@-1", "1@0", "2@1", "3@1"}, idLevels(g))

	parentConn := g.Connections[2]
	assert.Equal(t, added[2].UID, parentConn.FromUID)
	assert.Equal(t, root.UID, parentConn.ToUID)
	assert.Equal(t, -1, parentConn.FromLevel)

	assert.ElementsMatch(t, []string{"root:1", "child:1", "parent:1"}, q.calls)
}

func TestExpandAppliesTypeAllowList(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	q.children[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{
		rawNode(2, 1, cmdb.DirectionChild, "App", 1),
		rawNode(3, 1, cmdb.DirectionChild, "Switch", 4),
		rawNode(3, 1, cmdb.DirectionChild, "Switch", 4),
	}}

	e := NewExpander(NewStore(), q)
	g := &Graph{}
	f := QueryFilters{TypeIDs: []int{4}}
	root, err := e.LoadRoot(context.Background(), g, 1, f, nil)
	require.NoError(t, err)

	added, err := e.ExpandNodeInstance(context.Background(), g, root, f, nil)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, 3, added[0].ID)
}

func TestExpandFailureRollsBack(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	boom := errors.New("backend unavailable")
	q.childErr = boom

	s := NewStore()
	e := NewExpander(s, q)
	g := &Graph{}
	root, err := e.LoadRoot(context.Background(), g, 1, QueryFilters{}, nil)
	require.NoError(t, err)

	_, err = e.ExpandNodeInstance(context.Background(), g, root, QueryFilters{}, nil)
	require.ErrorIs(t, err, boom)

	assert.False(t, root.Expanded)
	assert.False(t, root.Loading)
	assert.False(t, s.SkipBackendEdges())
	assert.False(t, s.IsExpanded(1))
	assert.Len(t, g.Nodes, 1)

	q.childErr = nil
	_, err = e.ExpandNodeInstance(context.Background(), g, root, QueryFilters{}, nil)
	assert.NoError(t, err, "retry after failure")
}

func TestLoadRootErrors(t *testing.T) {
	q := newFakeQuerier()
	e := NewExpander(NewStore(), q)

	_, err := e.LoadRoot(context.Background(), &Graph{}, 99, QueryFilters{}, nil)
	assert.ErrorContains(t, err, "load root 99")

	q.roots[5] = &cmdb.GraphResponse{}
	_, err = e.LoadRoot(context.Background(), &Graph{}, 5, QueryFilters{}, nil)
	assert.ErrorContains(t, err, "no root node")
}

func TestBeginExpansionRejectsLoadingInstance(t *testing.T) {
	s := NewStore()
	e := NewExpander(s, newFakeQuerier())
	g := &Graph{}
	inst := s.MergeNodes(g, []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}, nil)[0]

	x, err := e.BeginExpansion(inst, QueryFilters{})
	require.NoError(t, err)
	assert.True(t, inst.Loading)
	assert.True(t, s.SkipBackendEdges())

	_, err = e.BeginExpansion(inst, QueryFilters{})
	assert.ErrorIs(t, err, ErrAlreadyLoading)

	e.FinishExpansion(x, nil)
	e.FinishExpansion(x, nil)
	assert.False(t, inst.Loading)
	assert.False(t, s.SkipBackendEdges())
}

func TestApplyLayersDiscardsRemovedInstance(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	q.children[1] = layerOf(cmdb.DirectionChild, 2)
	q.children[2] = layerOf(cmdb.DirectionChild, 5)

	s := NewStore()
	e := NewExpander(s, q)
	g := &Graph{}
	ctx := context.Background()
	root, err := e.LoadRoot(ctx, g, 1, QueryFilters{}, nil)
	require.NoError(t, err)
	_, err = e.ExpandNodeInstance(ctx, g, root, QueryFilters{}, nil)
	require.NoError(t, err)
	child := instanceOf(t, g, 2, 1)

	x, err := e.BeginExpansion(child, QueryFilters{})
	require.NoError(t, err)
	require.NoError(t, e.FetchLayers(ctx, x))

	// The parent collapses while the child is still loading.
	e.CollapseNodeInstance(g, root)

	_, err = e.ApplyLayers(g, x, nil)
	assert.ErrorIs(t, err, ErrUnknownInstance)
	e.FinishExpansion(x, err)
	assert.Len(t, g.Nodes, 1)
	assert.False(t, s.SkipBackendEdges())
}

func TestCollapseCompleteness(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{Nodes: []cmdb.Node{rawNode(1, 0, cmdb.DirectionRoot, "Server", 3)}}
	q.children[1] = layerOf(cmdb.DirectionChild, 2, 3)
	q.parents[1] = layerOf(cmdb.DirectionParent, 20)
	q.children[2] = layerOf(cmdb.DirectionChild, 7)
	q.children[3] = layerOf(cmdb.DirectionChild, 7, 8)
	q.children[7] = layerOf(cmdb.DirectionChild, 9)
	q.parents[20] = layerOf(cmdb.DirectionParent, 30)

	s := NewStore()
	e := NewExpander(s, q)
	g := &Graph{}
	ctx := context.Background()

	root, err := e.LoadRoot(ctx, g, 1, QueryFilters{}, nil)
	require.NoError(t, err)
	_, err = e.ExpandNodeInstance(ctx, g, root, QueryFilters{}, nil)
	require.NoError(t, err)
	firstExpansion := idLevels(g)

	n2 := instanceOf(t, g, 2, 1)
	n3 := instanceOf(t, g, 3, 1)
	n20 := instanceOf(t, g, 20, -1)
	_, err = e.ExpandNodeInstance(ctx, g, n2, QueryFilters{}, nil)
	require.NoError(t, err)
	_, err = e.ExpandNodeInstance(ctx, g, n3, QueryFilters{}, nil)
	require.NoError(t, err)
	_, err = e.ExpandNodeInstance(ctx, g, n20, QueryFilters{}, nil)
	require.NoError(t, err)

	// CI 7 now has one instance under each of 2 and 3.
	require.Len(t, s.InstancesOf(7), 2)
	var seven *NodeInstance
	for _, c := range g.Connections {
		if c.FromUID == n2.UID {
			seven, _ = g.Find(c.ToUID)
		}
	}
	require.NotNil(t, seven)
	_, err = e.ExpandNodeInstance(ctx, g, seven, QueryFilters{}, nil)
	require.NoError(t, err)

	t.Run("collapsing a child removes only its own subtree", func(t *testing.T) {
		removed := e.CollapseNodeInstance(g, n2)
		assert.Len(t, removed, 2)
		assert.Len(t, s.InstancesOf(7), 1)
		assert.Empty(t, s.InstancesOf(9))
		assert.False(t, n2.Expanded)
		assert.True(t, s.IsExpanded(3))

		for _, c := range g.Connections {
			for _, uid := range removed {
				assert.False(t, c.Touches(uid))
			}
		}
	})

	t.Run("collapsing a parent moves toward lower levels", func(t *testing.T) {
		removed := e.CollapseNodeInstance(g, n20)
		require.Len(t, removed, 1)
		assert.Empty(t, s.InstancesOf(30))
		assert.NotEmpty(t, s.InstancesOf(3))
	})

	t.Run("collapsing the root leaves it alone", func(t *testing.T) {
		e.CollapseNodeInstance(g, root)
		require.Len(t, g.Nodes, 1)
		assert.Empty(t, g.Connections)
		assert.Empty(t, s.ExpandedIDs())
		assert.Equal(t, 0, s.Tracker().Len())
	})

	t.Run("re-expansion reproduces the first expansion", func(t *testing.T) {
		_, err := e.ExpandNodeInstance(ctx, g, root, QueryFilters{}, nil)
		require.NoError(t, err)
		assert.Equal(t, firstExpansion, idLevels(g))
	})
}

func TestDescendantsVisitsSharedInstanceOnce(t *testing.T) {
	s := NewStore()
	e := NewExpander(s, newFakeQuerier())
	g := &Graph{}
	nodes := s.MergeNodes(g, []cmdb.Node{
		rawNode(1, 0, cmdb.DirectionRoot, "Server", 3),
		rawNode(2, 1, cmdb.DirectionChild, "App", 1),
		rawNode(3, 1, cmdb.DirectionChild, "App", 1),
		rawNode(4, 2, cmdb.DirectionChild, "DB", 2),
	}, nil)
	s.MergeEdges(g, []cmdb.Edge{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 4}, {From: 3, To: 4}})

	got := e.Descendants(g, nodes[0])
	assert.Equal(t, []string{nodes[1].UID, nodes[2].UID, nodes[3].UID}, got)

	// From a level-1 instance only strictly farther hops count.
	assert.Equal(t, []string{nodes[3].UID}, e.Descendants(g, nodes[1]))

	g.Connections[2].Valid = false
	g.Connections[3].Valid = false
	assert.Empty(t, e.Descendants(g, nodes[1]))
}

func TestCollapseKeepsInstanceLinkedFromAnotherParent(t *testing.T) {
	s := NewStore()
	e := NewExpander(s, newFakeQuerier())
	g := &Graph{}
	nodes := s.MergeNodes(g, []cmdb.Node{
		rawNode(1, 0, cmdb.DirectionRoot, "Server", 3),
		rawNode(2, 1, cmdb.DirectionChild, "App", 1),
		rawNode(3, 1, cmdb.DirectionChild, "App", 1),
		rawNode(4, 2, cmdb.DirectionChild, "DB", 2),
		rawNode(5, 3, cmdb.DirectionChild, "Volume", 4),
	}, nil)
	s.MergeEdges(g, []cmdb.Edge{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 4}, {From: 3, To: 4}, {From: 4, To: 5}})
	for _, n := range nodes[:4] {
		n.Expanded = true
	}

	removed := e.CollapseNodeInstance(g, nodes[1])
	assert.Empty(t, removed, "4 is still linked from 3")
	assert.Len(t, g.Nodes, 5)
	assert.False(t, nodes[1].Expanded)

	removed = e.CollapseNodeInstance(g, nodes[2])
	assert.Equal(t, []string{nodes[3].UID, nodes[4].UID}, removed)
	assert.Len(t, g.Nodes, 3)
	for _, c := range g.Connections {
		assert.False(t, c.Touches(nodes[3].UID))
	}
}

func TestReloadDuringExpansionKeepsBackendEdges(t *testing.T) {
	q := newFakeQuerier()
	q.roots[1] = &cmdb.GraphResponse{
		Nodes: []cmdb.Node{
			rawNode(1, 0, cmdb.DirectionRoot, "Server", 3),
			rawNode(2, 1, cmdb.DirectionChild, "Disk", 4),
		},
		Edges: []cmdb.Edge{{From: 1, To: 2}},
	}
	q.children[2] = layerOf(cmdb.DirectionChild, 5)

	s := NewStore()
	e := NewExpander(s, q)
	g := &Graph{}
	ctx := context.Background()
	_, err := e.LoadRoot(ctx, g, 1, QueryFilters{}, nil)
	require.NoError(t, err)

	x, err := e.BeginExpansion(instanceOf(t, g, 2, 1), QueryFilters{})
	require.NoError(t, err)
	require.True(t, s.SkipBackendEdges())

	_, err = e.LoadRoot(ctx, g, 1, QueryFilters{}, nil)
	require.NoError(t, err)
	assert.Len(t, g.Connections, 1, "the reload merges its backend edges")

	require.NoError(t, e.FetchLayers(ctx, x))
	_, err = e.ApplyLayers(g, x, nil)
	assert.ErrorIs(t, err, ErrUnknownInstance)
	e.FinishExpansion(x, nil)
	assert.False(t, s.SkipBackendEdges())

	// A fresh expansion after the stale one still balances the flag.
	y, err := e.BeginExpansion(instanceOf(t, g, 2, 1), QueryFilters{})
	require.NoError(t, err)
	e.FinishExpansion(y, nil)
	assert.False(t, s.SkipBackendEdges())
}
