package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func newSearchCmd(factory servicesFactory, root *rootOptions) *cobra.Command {
	var query domain.Query
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Show the documents retrieval would use, without generating",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query.Text = strings.Join(args, " ")
			return withServices(cmd, factory, root, func(svc *services) error {
				retrieval, err := svc.search.SearchDocuments(cmd.Context(), query)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if root.jsonOutput {
					return printJSON(out, retrieval)
				}

				if retrieval.Degraded {
					fmt.Fprintf(out, "Warning: index unavailable, showing fallback documents\n")
				}
				if len(retrieval.Documents) == 0 {
					fmt.Fprintf(out, "No documents above the similarity floor.\n")
					return nil
				}
				for i, doc := range retrieval.Documents {
					fmt.Fprintf(out, "%2d. %.3f  %s  %s  %s\n", i+1, doc.Score, doc.ID, doc.Filename, doc.PatientID)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&query.PatientID, "patient-id", "", "Restrict retrieval to one patient")
	f.StringVar(&query.DocumentType, "document-type", "", "Restrict retrieval to one document type")
	f.IntVar(&query.MaxContextDocuments, "limit", 0, "Number of documents to return")
	return cmd
}
