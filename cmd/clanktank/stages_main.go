package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/pipeline"
)

func runResearch(cmd *cobra.Command, args []string) error {
	return runStage(cmd, pipeline.StageResearch)
}

func runScore(cmd *cobra.Command, args []string) error {
	return runStage(cmd, pipeline.StageScore)
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	return runStage(cmd, pipeline.StageSynthesize)
}

func runStage(cmd *cobra.Command, stage string) error {
	opts, err := stageOpts(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	// Interrupts cancel between submissions, not mid-call.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := a.pipelineRunner(judgeConfig(cmd)).Run(ctx, stage, version, opts)
	if err != nil {
		return err
	}
	return printStageStats(stats)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	opts, err := stageOpts(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	all, runErr := a.pipelineRunner(judgeConfig(cmd)).RunAll(ctx, version, opts)

	// Report whatever completed before surfacing a stage failure.
	failed := 0
	for _, stats := range all {
		fmt.Printf("%s: %d processed, %d succeeded, %d failed, %d skipped (%s)\n",
			stats.Stage, stats.Processed, stats.Succeeded, stats.Failed, stats.Skipped,
			stats.Duration.Round(time.Millisecond))
		failed += stats.Failed
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d submission(s) failed across the pipeline", failed)
	}
	return nil
}

// printStageStats reports the batch outcome and turns partial failure
// into a non-zero exit so schedulers notice.
func printStageStats(stats pipeline.Stats) error {
	fmt.Printf("%s: %d processed, %d succeeded, %d failed, %d skipped (%s)\n",
		stats.Stage, stats.Processed, stats.Succeeded, stats.Failed, stats.Skipped,
		stats.Duration.Round(time.Millisecond))
	if stats.Failed > 0 {
		return fmt.Errorf("%d submission(s) failed during %s", stats.Failed, stats.Stage)
	}
	return nil
}
