package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/extract/sources"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/pipeline"
)

var (
	runResume bool
	runClean  bool
	runStages string
	runState  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the directory",
	Long: `Runs the pipeline stages:

  1  base         IRS exempt organization master file
  2  keyed        ProPublica and Charity Navigator, joined by EIN
  3  non_keyed    VA facilities
  4  merge
  5  dedup
  6  output

Skipped extraction stages reuse their last completed checkpoints.`,
	Example: `  orgdir run
  orgdir run --resume
  orgdir run --stages 4,5,6
  orgdir run --state KY --clean`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}
		stages, err := pipeline.ParseStages(runStages)
		if err != nil {
			return err
		}

		ckpt, err := openCheckpoints()
		if err != nil {
			return err
		}
		backend, err := openCache()
		if err != nil {
			return err
		}
		if backend != nil {
			defer backend.Close() //nolint:errcheck
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sink, closeSink, err := initSink(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres sink")
		}
		defer closeSink()

		reg := sources.NewRegistry(cfg, backend, ckpt)
		p := pipeline.New(cfg, reg, ckpt, st)
		if sink != nil {
			p.WithSink(sink)
		}

		result, err := p.Run(ctx, model.RunOptions{
			Stages: stages,
			State:  runState,
			Resume: runResume,
			Clean:  runClean,
		})
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Warn("interrupted; completed work is checkpointed, rerun with --resume")
			}
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "reuse completed checkpoints instead of re-extracting")
	runCmd.Flags().BoolVar(&runClean, "clean", false, "delete all checkpoints before running")
	runCmd.Flags().StringVar(&runStages, "stages", "", "comma-separated stages to run, e.g. 1,2,3 (default all)")
	runCmd.Flags().StringVar(&runState, "state", "", "restrict to one state by two-letter code, e.g. KY")
	rootCmd.AddCommand(runCmd)
}
