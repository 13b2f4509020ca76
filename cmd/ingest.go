package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/storihq/stori-rag/internal/app"
	"github.com/storihq/stori-rag/internal/config"
	"github.com/storihq/stori-rag/internal/log"
)

// ingestParallelism bounds concurrent document indexing so embedding calls
// stay within provider rate limits.
const ingestParallelism = 4

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Split and index documents into the retrieval corpus",
	Long: `Reads the given text files, splits them into overlapping chunks, embeds
each chunk, and stores the result in the index. The file name (without
directory) becomes the document ID; re-ingesting a file replaces its chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(ingestParallelism)

	for _, path := range paths {
		eg.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			documentID := filepath.Base(path)
			chunks := a.Splitter.Split(string(content))

			indexed, err := a.Index.IndexDocument(egCtx, documentID, chunks)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", documentID, err)
			}

			logger.Info("document indexed", "document_id", documentID, "chunks", indexed)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	stats, err := a.Index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading index stats: %w", err)
	}
	fmt.Printf("Indexed %d file(s). Corpus now holds %d chunks across %d documents.\n",
		len(paths), stats.Chunks, stats.Documents)
	return nil
}
