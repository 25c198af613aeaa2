package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/org-directory/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the HTTP response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [source]",
	Short: "Delete cached responses for one source, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openCache()
		if err != nil {
			return err
		}
		if backend == nil {
			return eris.New("cache is disabled (cache.enabled=false)")
		}
		defer backend.Close() //nolint:errcheck

		ctx := cmd.Context()
		var n int
		if len(args) == 0 {
			n, err = backend.ClearAll(ctx)
		} else {
			n, err = backend.Clear(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed %d cached responses.\n", n)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached response counts per source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, err := openCache()
		if err != nil {
			return err
		}
		if backend == nil {
			return eris.New("cache is disabled (cache.enabled=false)")
		}
		defer backend.Close() //nolint:errcheck

		stats, err := backend.Stats(cmd.Context())
		if err != nil {
			return err
		}
		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func formatCacheStats(out io.Writer, s cache.Stats) {
	names := make([]string, 0, len(s.Entries))
	for ns := range s.Entries {
		names = append(names, ns)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tENTRIES\tSIZE")
	for _, ns := range names {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", ns, s.Entries[ns], humanBytes(s.Bytes[ns]))
	}
	_ = w.Flush()
}
