package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func newExtractCmd(factory servicesFactory, root *rootOptions) *cobra.Command {
	var (
		documentID  string
		kindName    string
		requesterID string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract pathologies, treatments or history from one document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := domain.ParseExtractionKind(kindName)
			if err != nil {
				return err
			}
			return withServices(cmd, factory, root, func(svc *services) error {
				result, err := svc.extract.Extract(cmd.Context(), domain.ExtractionRequest{
					DocumentID:  documentID,
					Kind:        kind,
					RequesterID: requesterID,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if root.jsonOutput {
					return printJSON(out, result)
				}

				fmt.Fprintf(out, "%s in %s: %d\n", result.Kind, result.DocumentID, result.Count)
				for _, item := range result.Items {
					if detail := result.Details[item]; detail != "" {
						fmt.Fprintf(out, "  - %s: %s\n", item, detail)
						continue
					}
					fmt.Fprintf(out, "  - %s\n", item)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&documentID, "document-id", "", "Document to extract from (required)")
	f.StringVar(&kindName, "type", "", "pathologies, treatments or history (required)")
	f.StringVar(&requesterID, "requester-id", "", "Identity recorded in the audit trail")
	_ = cmd.MarkFlagRequired("document-id")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
