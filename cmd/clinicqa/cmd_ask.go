package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func newAskCmd(factory servicesFactory, root *rootOptions) *cobra.Command {
	var query domain.Query
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed clinical documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query.Text = strings.Join(args, " ")
			return withServices(cmd, factory, root, func(svc *services) error {
				answer, err := svc.ask.Ask(cmd.Context(), query)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if root.jsonOutput {
					return printJSON(out, answer)
				}

				fmt.Fprintf(out, "%s\n\n", strings.TrimSpace(answer.Text))
				fmt.Fprintf(out, "Confidence: %.2f\n", answer.Confidence)
				if answer.Degraded {
					fmt.Fprintf(out, "Warning:    index unavailable, answer built from fallback documents\n")
				}
				fmt.Fprintf(out, "Query ID:   %s\n", answer.QueryID)
				fmt.Fprintf(out, "Duration:   %dms\n", answer.ProcessingTime.Milliseconds())
				if len(answer.Sources) > 0 {
					fmt.Fprintf(out, "Sources:\n")
					for _, s := range answer.Sources {
						fmt.Fprintf(out, "  [%d] %s (%s, score %.2f)\n", s.Index, s.Filename, s.DocumentID, s.RelevanceScore)
					}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&query.PatientID, "patient-id", "", "Restrict retrieval to one patient")
	f.StringVar(&query.DocumentType, "document-type", "", "Restrict retrieval to one document type")
	f.IntVar(&query.MaxContextDocuments, "max-docs", 0, "Number of documents placed in the context")
	f.StringVar(&query.RequesterID, "requester-id", "", "Identity recorded in the audit trail")
	return cmd
}
