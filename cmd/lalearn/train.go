package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	resume, _ := cmd.Flags().GetString("resume")
	resumeLatest, _ := cmd.Flags().GetBool("resume-latest")
	switch {
	case resume != "":
		if _, err := s.trainer.LoadModel(ctx, resume); err != nil {
			return fmt.Errorf("resume %s: %w", resume, err)
		}
	case resumeLatest:
		if _, err := s.trainer.LoadLatest(ctx); err != nil {
			return fmt.Errorf("resume latest: %w", err)
		}
	}

	stats, err := s.trainer.Train(ctx, s.cfg.Epochs)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("save")
	if name == "" {
		name = s.cfg.RunLabel
	}
	blob, err := s.trainer.SaveModel(ctx, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, st := range stats {
		fmt.Fprintf(out, "epoch %d\tloss %.6f\tlr %.6g\tempty positives %d\t%s\n",
			st.Epoch, st.MeanLoss, st.LR, st.EmptyPositives, st.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "saved %s\n", blob)
	return nil
}
