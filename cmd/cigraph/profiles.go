package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/cigraph/internal/server"
	"github.com/sanonone/cigraph/pkg/profile"
)

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved filter profiles",
	}
	cmd.AddCommand(profilesListCmd())
	return cmd
}

func profilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List filter profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backends, err := server.OpenBackends(cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			list, err := profile.NewService(backends.Profiles).List(cmd.Context())
			if err != nil {
				var perr *profile.Error
				if errors.As(err, &perr) {
					return errors.New(perr.Notification())
				}
				return err
			}
			if len(list) == 0 {
				fmt.Println("  No filter profiles saved yet.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{strconv.Itoa(p.PublicID), p.Name, joinInts(p.TypesFilter), joinInts(p.RelationsFilter)})
			}
			Table([]string{"ID", "Name", "Types", "Relations"}, rows)
			return nil
		},
	}
}

func joinInts(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
