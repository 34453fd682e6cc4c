package main

import (
	"context"
	"encoding/csv"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/localagg/cluster"
)

func runEval(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = s.cfg.SaveTmpName
	}
	if _, err := s.trainer.LoadModel(ctx, model); err != nil {
		return err
	}

	k, _ := cmd.Flags().GetInt("clusters")
	if k <= 0 {
		k = s.cfg.Loss.Centroids
	}
	ev, err := s.trainer.Eval(ctx, cluster.KMeans{K: k, Seed: s.cfg.Seed, Spherical: true}, nil)
	if err != nil {
		return err
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write([]string{"id", "cluster", "label"}); err != nil {
		return err
	}
	for i, id := range ev.IDs {
		sample, err := s.data.Get(int(id))
		if err != nil {
			return err
		}
		if err := w.Write([]string{strconv.Itoa(int(id)), strconv.Itoa(ev.Labels[i]), strconv.Itoa(sample.Label)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
