package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/auracap/internal/config"
	"github.com/dgnsrekt/auracap/internal/storage"
	"github.com/dgnsrekt/auracap/internal/types"
)

func openStore(ctx context.Context) (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.DBPath)
}

func newCallsListCommand() *cobra.Command {
	var tabID string
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captured calls, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var calls []types.CapturedCall
			if tabID != "" {
				calls, err = store.ListByTab(ctx, tabID)
			} else {
				calls, err = store.ListAll(ctx)
			}
			if err != nil {
				return err
			}
			if jsonMode {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(calls)
			}
			return printCalls(cmd.OutOrStdout(), calls)
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "only calls from this tab id")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "output JSON")
	return cmd
}

func newCallsClearCommand() *cobra.Command {
	var tabID string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete captured calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var n int64
			if tabID != "" {
				n, err = store.ClearByTab(ctx, tabID)
			} else {
				n, err = store.ClearAll(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d calls\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "only clear calls from this tab id")
	return cmd
}

func printCalls(out io.Writer, calls []types.CapturedCall) error {
	if len(calls) == 0 {
		_, err := fmt.Fprintln(out, "No calls captured")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUESTED\tTAB\tSOURCE\tSTATE\tDURATION\tCALL")
	for i := range calls {
		c := &calls[i]
		requested := time.UnixMilli(c.RequestedAt).UTC().Format("2006-01-02 15:04:05")
		duration := "-"
		if c.State.Terminal() {
			duration = fmt.Sprintf("%dms", c.Duration())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			requested, storage.ShortTabID(c.OriginTab), c.Source, c.State, duration, c.DisplayName)
	}
	return w.Flush()
}
