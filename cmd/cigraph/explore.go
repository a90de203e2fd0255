package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/cigraph/pkg/client"
	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/filter"
)

func exploreCmd() *cobra.Command {
	var (
		depth    int
		types    []string
		mode     string
		search   string
		baseURL  string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "explore <root-id>",
		Short: "Print the relationship tree around a CI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := strconv.Atoi(args[0])
			if err != nil || rootID <= 0 {
				return fmt.Errorf("invalid root id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.Backend.BaseURL = baseURL
			}
			c, err := client.New(cfg.Backend)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts := cfg.Explorer.Session
			opts.Viewport.CullThreshold = math.MaxInt
			opts.Layout.Animate = false
			sess := explorer.NewSession("cli", c, opts)

			v, err := walk(ctx, sess, rootID, depth, parallel)
			if err != nil {
				return err
			}
			if len(types) > 0 || search != "" {
				v, err = sess.SetCriteria(filter.Criteria{Search: search, Types: types, Mode: filter.ParseMode(mode)})
				if err != nil {
					return err
				}
			}

			renderTree(cmd.OutOrStdout(), v)
			Subtle.Fprintf(cmd.OutOrStdout(), "\n  %d of %d instances shown, %d expanded\n", v.Visible, v.Total, len(v.Expanded))
			return nil
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 2, "Number of layers to load around the root")
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Only show nodes reachable through these type labels")
	cmd.Flags().StringVar(&mode, "mode", "or", "Combine --types with OR or AND")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show nodes matching this text")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the CMDB base URL")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent expansions per layer")
	return cmd
}

// walk opens rootID and expands the frontier layer by layer until depth
// layers are loaded. Failed expansions are reported and skipped.
func walk(ctx context.Context, sess *explorer.Session, rootID, depth, parallel int) (*explorer.View, error) {
	v, err := sess.Open(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	for layer := 1; layer < depth; layer++ {
		var frontier []string
		for _, n := range v.Nodes {
			if !n.Root && !n.Expanded && (n.Level == layer || n.Level == -layer) {
				frontier = append(frontier, n.UID)
			}
		}
		if len(frontier) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(max(parallel, 1))
		for _, uid := range frontier {
			g.Go(func() error {
				if _, err := sess.Expand(ctx, uid); err != nil {
					mu.Lock()
					Warn.Fprintf(os.Stderr, "  skipped %s: %v\n", uid, err)
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v = sess.View(time.Now())
	}
	return v, nil
}
