package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cigraph/pkg/cmdb"
	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/graph"
)

type fakeCMDB struct{}

func node(id, level int, dir, typeLabel string) cmdb.Node {
	return cmdb.Node{
		ID:        id,
		Label:     fmt.Sprintf("%s-%d", typeLabel, id),
		Direction: dir,
		Level:     level,
		Type:      cmdb.TypeInfo{ID: id, Label: typeLabel},
	}
}

func (fakeCMDB) LoadWithRoot(_ context.Context, id int, _, _ []int) (*cmdb.GraphResponse, error) {
	if id != 1 {
		return nil, fmt.Errorf("ci %d not found", id)
	}
	return &cmdb.GraphResponse{
		Nodes: []cmdb.Node{
			node(1, 0, cmdb.DirectionRoot, "Application"),
			node(2, 1, cmdb.DirectionChild, "Database"),
		},
		Edges: []cmdb.Edge{{From: 1, To: 2, Relation: cmdb.Relation{Label: "uses"}}},
	}, nil
}

func (fakeCMDB) ExpandChild(_ context.Context, id int, _, _ []int) (*cmdb.GraphResponse, error) {
	if id == 2 {
		return &cmdb.GraphResponse{Nodes: []cmdb.Node{node(3, 0, cmdb.DirectionChild, "Volume")}}, nil
	}
	return &cmdb.GraphResponse{}, nil
}

func (fakeCMDB) ExpandParent(context.Context, int, []int, []int) (*cmdb.GraphResponse, error) {
	return &cmdb.GraphResponse{}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	opts := explorer.DefaultManagerOptions()
	opts.IdleTTL = 0
	m := explorer.NewManager(fakeCMDB{}, opts)
	t.Cleanup(m.Close)
	return NewService(m)
}

func TestToolsWalkTheGraph(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, opened, err := s.OpenGraph(ctx, nil, OpenGraphArgs{RootID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, opened.Total)
	require.Len(t, opened.Edges, 1)
	assert.Equal(t, "uses", opened.Edges[0].Relation)

	_, expanded, err := s.Expand(ctx, nil, InstanceArgs{SessionID: opened.SessionID, CIID: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, expanded.Total)

	_, filtered, err := s.Filter(ctx, nil, FilterArgs{SessionID: opened.SessionID, Search: "volume"})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Visible)

	_, described, err := s.Describe(ctx, nil, DescribeArgs{SessionID: opened.SessionID})
	require.NoError(t, err)
	require.Len(t, described.Nodes, 1)
	assert.Equal(t, "Volume", described.Nodes[0].Type)

	_, _, err = s.Filter(ctx, nil, FilterArgs{SessionID: opened.SessionID})
	require.NoError(t, err)

	var dbUID string
	for _, n := range expanded.Nodes {
		if n.ID == 2 {
			dbUID = n.UID
		}
	}
	_, collapsed, err := s.Collapse(ctx, nil, InstanceArgs{SessionID: opened.SessionID, UID: dbUID})
	require.NoError(t, err)
	assert.Equal(t, 2, collapsed.Total)
}

func TestToolErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, _, err := s.OpenGraph(ctx, nil, OpenGraphArgs{RootID: 0})
	assert.Error(t, err)

	_, _, err = s.OpenGraph(ctx, nil, OpenGraphArgs{RootID: 42})
	assert.Error(t, err)
	assert.Equal(t, 0, s.manager.Len())

	_, _, err = s.Describe(ctx, nil, DescribeArgs{SessionID: "missing"})
	assert.ErrorIs(t, err, explorer.ErrSessionNotFound)

	_, opened, err := s.OpenGraph(ctx, nil, OpenGraphArgs{RootID: 1})
	require.NoError(t, err)

	_, _, err = s.Expand(ctx, nil, InstanceArgs{SessionID: opened.SessionID})
	assert.Error(t, err)

	_, _, err = s.Expand(ctx, nil, InstanceArgs{SessionID: opened.SessionID, CIID: 77})
	assert.ErrorIs(t, err, graph.ErrUnknownInstance)
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	opts := explorer.DefaultManagerOptions()
	opts.IdleTTL = 0
	m := explorer.NewManager(fakeCMDB{}, opts)
	defer m.Close()

	assert.NotNil(t, NewMCPServer(m))
}
