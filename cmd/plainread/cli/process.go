package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/calewis/plainread/internal/config"
	"github.com/calewis/plainread/internal/docstore"
	"github.com/calewis/plainread/internal/parser"
	"github.com/calewis/plainread/internal/pipeline"
	"github.com/calewis/plainread/internal/rewrite"
	"github.com/calewis/plainread/internal/source"
)

var (
	flagForce bool
	flagJSON  bool
)

var processCmd = &cobra.Command{
	Use:   "process <reference>",
	Short: "Run the pipeline for one paper in the foreground",
	Long: `Process fetches, parses and rewrites a single paper, printing progress
to stderr. With --json the finished paper is printed to stdout.

Examples:
  plainread process https://www.biorxiv.org/content/10.1101/2023.01.15.524098v2
  plainread process --force --json https://www.biorxiv.org/content/10.1101/2023.01.15.524098v2`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(&flagForce, "force", false, "Recompute even if the paper is cached")
	processCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the finished paper as JSON")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	src := source.NewClient(cfg.SourceAPIBase)
	defer src.Close()
	model := rewrite.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	defer model.Close()
	store := docstore.NewClient(cfg.DocstoreURL, cfg.DocstoreAPIKey)
	defer store.Close()

	runner := pipeline.NewRunner(src, model, store, log, parser.Options{
		MinParagraphChars: cfg.MinParagraphChars,
		ImageBase:         cfg.ImageBase,
	})

	report := func(e pipeline.Event) {
		if e.SubProgress != "" {
			fmt.Fprintf(os.Stderr, "[%3d%%] %s: %s (%s)\n", e.Progress, e.Stage, e.Message, e.SubProgress)
			return
		}
		fmt.Fprintf(os.Stderr, "[%3d%%] %s: %s\n", e.Progress, e.Stage, e.Message)
	}

	p, err := runner.Run(context.Background(), args[0], flagForce, report)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	fmt.Fprintf(os.Stderr, "done: %q, %d blocks, %d glossary terms\n",
		p.Title, len(p.Blocks), len(p.Plain.Terms))
	return nil
}
