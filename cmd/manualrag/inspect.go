package main

import (
	"manual-rag/internal/inspector"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the chunks retrieved for a fixed diagnostic query",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	retriever, err := a.retriever(cmd.Context())
	if err != nil {
		return err
	}

	return inspector.Run(cmd.Context(), cmd.OutOrStdout(), retriever, a.cfg.Retrieval.InspectQuery, a.cfg.Retrieval.TopK)
}
