package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/org-directory/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and clear extraction checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ckpt, err := openCheckpoints()
		if err != nil {
			return err
		}
		infos, err := ckpt.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(os.Stderr, "No checkpoints found.")
			return nil
		}
		formatCheckpoints(os.Stdout, infos)
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear [name]",
	Short: "Delete one checkpoint, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ckpt, err := openCheckpoints()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			n, err := ckpt.ClearAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Cleared %d checkpoints.\n", n)
			return nil
		}
		name := args[0]
		if !ckpt.Exists(name) {
			return eris.Errorf("checkpoint %q not found", name)
		}
		if err := ckpt.Clear(name); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Cleared %s.\n", name)
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

// formatCheckpoints writes a table of checkpoints to out.
func formatCheckpoints(out io.Writer, infos []checkpoint.Info) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tSAVED\tVALID")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-----")
	for _, in := range infos {
		saved := "-"
		if !in.SavedAt.IsZero() {
			saved = in.SavedAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", in.Name, humanBytes(in.Size), saved, in.Valid)
	}
	_ = w.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
