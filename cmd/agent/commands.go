package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [project-id]",
		Short: "Run one sync pass and print its report",
		Long: `Run one upload and download pass against the remote store.

With no argument every project on this device is synced.

Example:
  reelsync-agent sync
  reelsync-agent sync 9f1c2e4a-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var ids []string
			if len(args) == 1 {
				ids = args
			} else {
				for _, p := range a.svc.ListProjects() {
					ids = append(ids, p.ID())
				}
			}

			reports := make(map[string]syncer.Report, len(ids))
			var failed error
			for _, id := range ids {
				rep, err := a.svc.Sync(cmd.Context(), id)
				reports[id] = rep
				if err != nil {
					a.logger.Error("sync failed", "project_id", id, "error", err)
					failed = err
				}
			}
			if err := writeReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			return failed
		},
	}
}

func newProjectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects stored on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			snaps := make([]project.Snapshot, 0)
			for _, p := range a.svc.ListProjects() {
				snaps = append(snaps, p.Snapshot())
			}
			return writeProjects(cmd.OutOrStdout(), snaps, a.identity.UserID)
		},
	}
}

func writeReports(w io.Writer, reports map[string]syncer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func writeProjects(w io.Writer, snaps []project.Snapshot, userID string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTIER\tCLIPS\tUNSEEN\tROLE")
	for _, s := range snaps {
		role := "member"
		if s.OwnerID == userID {
			role = "owner"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n", s.ID, s.Name, s.Tier, len(s.Clips), s.Limits.ClipLimit, s.UnseenCount, role)
	}
	return tw.Flush()
}
