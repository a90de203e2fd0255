package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/filter"
	"github.com/sanonone/cigraph/pkg/graph"
)

type Service struct {
	manager *explorer.Manager
}

func NewService(manager *explorer.Manager) *Service {
	return &Service{manager: manager}
}

func summarize(v *explorer.View) GraphSummary {
	out := GraphSummary{
		SessionID: v.SessionID,
		RootID:    v.RootID,
		Total:     v.Total,
		Visible:   v.Visible,
		Nodes:     make([]NodeSummary, 0, len(v.Nodes)),
		Edges:     make([]EdgeSummary, 0, len(v.Edges)),
	}
	for _, n := range v.Nodes {
		out.Nodes = append(out.Nodes, NodeSummary{
			UID:      n.UID,
			ID:       n.ID,
			Label:    n.Label,
			Type:     n.Type,
			Level:    n.Level,
			Expanded: n.Expanded,
			Loading:  n.Loading,
			Root:     n.Root,
		})
	}
	for _, e := range v.Edges {
		out.Edges = append(out.Edges, EdgeSummary{From: e.FromUID, To: e.ToUID, Relation: e.Label})
	}
	return out
}

// resolve picks the instance named by args: the uid when given, else the
// visible instance of ci_id closest to the root.
func resolve(sess *explorer.Session, args InstanceArgs) (string, error) {
	if args.UID != "" {
		return args.UID, nil
	}
	if args.CIID <= 0 {
		return "", fmt.Errorf("either uid or ci_id is required")
	}
	v := sess.View(time.Now())
	best := ""
	bestLevel := 0
	for _, n := range v.Nodes {
		if n.ID != args.CIID {
			continue
		}
		level := n.Level
		if level < 0 {
			level = -level
		}
		if best == "" || level < bestLevel {
			best, bestLevel = n.UID, level
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: ci %d is not in the graph", graph.ErrUnknownInstance, args.CIID)
	}
	return best, nil
}

// --- Tool Handlers ---

func (s *Service) OpenGraph(ctx context.Context, req *mcp.CallToolRequest, args OpenGraphArgs) (*mcp.CallToolResult, GraphSummary, error) {
	if args.RootID <= 0 {
		return nil, GraphSummary{}, fmt.Errorf("root_id must be positive")
	}

	sess := s.manager.Create()
	if _, err := sess.SetQueryFilters(ctx, graph.QueryFilters{TypeIDs: args.TypeIDs, RelationIDs: args.RelationIDs}); err != nil {
		s.manager.Delete(sess.ID())
		return nil, GraphSummary{}, err
	}
	v, err := sess.Open(ctx, args.RootID)
	if err != nil {
		s.manager.Delete(sess.ID())
		return nil, GraphSummary{}, fmt.Errorf("open graph: %w", err)
	}
	slog.Info("MCP graph opened", "session", sess.ID(), "root_id", args.RootID)
	return nil, summarize(v), nil
}

func (s *Service) Expand(ctx context.Context, req *mcp.CallToolRequest, args InstanceArgs) (*mcp.CallToolResult, GraphSummary, error) {
	sess, err := s.manager.Get(args.SessionID)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	uid, err := resolve(sess, args)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	v, err := sess.Expand(ctx, uid)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	return nil, summarize(v), nil
}

func (s *Service) Collapse(ctx context.Context, req *mcp.CallToolRequest, args InstanceArgs) (*mcp.CallToolResult, GraphSummary, error) {
	sess, err := s.manager.Get(args.SessionID)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	uid, err := resolve(sess, args)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	v, err := sess.Collapse(uid)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	return nil, summarize(v), nil
}

func (s *Service) Filter(ctx context.Context, req *mcp.CallToolRequest, args FilterArgs) (*mcp.CallToolResult, GraphSummary, error) {
	sess, err := s.manager.Get(args.SessionID)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	v, err := sess.SetCriteria(filter.Criteria{
		Search:        args.Search,
		Types:         args.Types,
		Mode:          filter.ParseMode(args.Mode),
		ConnectedOnly: args.ConnectedOnly,
		SelectedUID:   args.SelectedUID,
	})
	if err != nil {
		return nil, GraphSummary{}, err
	}
	return nil, summarize(v), nil
}

func (s *Service) Describe(ctx context.Context, req *mcp.CallToolRequest, args DescribeArgs) (*mcp.CallToolResult, GraphSummary, error) {
	sess, err := s.manager.Get(args.SessionID)
	if err != nil {
		return nil, GraphSummary{}, err
	}
	return nil, summarize(sess.View(time.Now())), nil
}
