package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the vector index from the source manual",
	Long: `Loads the configured PDF, splits it into overlapping chunks, embeds every
chunk and replaces the index directory (and the Postgres mirror when
postgres.dsn is set). Nothing is written unless every step succeeds.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}

	stats, err := p.Build(ctx, a.cfg.Source.Path)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d pages of %s into %s in %v\n",
		stats.Chunks, stats.Pages, a.cfg.Source.Path, a.cfg.Index.Dir, stats.TotalDuration.Round(time.Millisecond))
	return nil
}
