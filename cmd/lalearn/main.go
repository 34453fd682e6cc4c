// Package main provides the lalearn CLI, which trains and evaluates encoders
// with the Local Aggregation loss.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lalearn",
		Short: "lalearn - Local Aggregation representation learning",
		Long: `lalearn trains an encoder so that its codes aggregate samples that
repeated clusterings of a memory bank agree on, then clusters the codes.

Configuration is read from a YAML file (--config), overridden by LALEARN_*
environment variables and finally by command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML run configuration")
	rootCmd.PersistentFlags().String("run-label", "", "Run label")
	rootCmd.PersistentFlags().Int64("seed", 0, "Random seed")
	rootCmd.PersistentFlags().Int("batch-size", 0, "Loader batch size")
	rootCmd.PersistentFlags().String("checkpoint-dir", "", "Checkpoint directory of the local backend")
	rootCmd.PersistentFlags().String("checkpoint-backend", "", "Checkpoint backend: local, memory, s3 or minio")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lalearn v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		RunE:  runConfig,
	})

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train an encoder",
		RunE:  runTrain,
	}
	trainCmd.Flags().Int("epochs", 0, "Number of epochs")
	trainCmd.Flags().Float64("lr", 0, "Initial learning rate")
	trainCmd.Flags().String("resume", "", "Checkpoint to start from")
	trainCmd.Flags().Bool("resume-latest", false, "Start from the latest checkpoint")
	trainCmd.Flags().String("save", "", "Checkpoint name for the final model (default: run label)")
	rootCmd.AddCommand(trainCmd)

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Cluster the codes of a trained encoder",
		RunE:  runEval,
	}
	evalCmd.Flags().String("model", "", "Checkpoint to evaluate (default: save_tmp_name)")
	evalCmd.Flags().Int("clusters", 0, "Number of clusters (default: loss centroids)")
	rootCmd.AddCommand(evalCmd)

	return rootCmd
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
