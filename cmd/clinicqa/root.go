package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/clinical-qa/internal/bootstrap"
	"github.com/kirillkom/clinical-qa/internal/config"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
	"github.com/kirillkom/clinical-qa/internal/observability/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type services struct {
	ask     ports.QuestionAnswerer
	search  ports.DocumentSearcher
	extract ports.InformationExtractor
	close   func()
}

type servicesFactory func(ctx context.Context, logLevel string) (*services, error)

func openServices(ctx context.Context, logLevel string) (*services, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, cfg.ServiceName+"-cli", cfg.LogLevel)
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &services{
		ask:     app.AskUC,
		search:  app.AskUC,
		extract: app.ExtractUC,
		close:   app.Close,
	}, nil
}

type rootOptions struct {
	jsonOutput bool
	logLevel   string
}

func newRootCmd(factory servicesFactory) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "clinicqa",
		Short:         "Question answering over clinical documents",
		Long:          "clinicqa answers questions, extracts medical facts and searches the\nclinical document index using the retrieval-augmented pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print raw JSON instead of text")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(newAskCmd(factory, opts))
	root.AddCommand(newExtractCmd(factory, opts))
	root.AddCommand(newSearchCmd(factory, opts))
	root.Version = version
	return root
}

func withServices(cmd *cobra.Command, factory servicesFactory, opts *rootOptions, run func(*services) error) error {
	svc, err := factory(cmd.Context(), opts.logLevel)
	if err != nil {
		return err
	}
	if svc.close != nil {
		defer svc.close()
	}
	return run(svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
