package main

import (
	"fmt"
	"strings"

	"manual-rag/internal/models"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and list the manual excerpts used",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine(cmd.Context())
	if err != nil {
		return err
	}

	resp, err := engine.Ask(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to process query: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), formatAnswer(resp))
	return nil
}

func formatAnswer(response *models.Response) string {
	var sb strings.Builder

	sb.WriteString(response.Answer)
	sb.WriteString("\n\n")

	if len(response.Sources) > 0 {
		sb.WriteString("Sources:\n")
		for i, source := range response.Sources {
			pages := fmt.Sprintf("%d", source.Metadata.StartPage)
			if source.Metadata.EndPage > source.Metadata.StartPage {
				pages = fmt.Sprintf("%d-%d", source.Metadata.StartPage, source.Metadata.EndPage)
			}
			sb.WriteString(fmt.Sprintf("  %d. [%s, page %s]\n", i+1, source.Metadata.Source, pages))
		}
	}

	return sb.String()
}
