package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docrag/internal/adapter/fs"
	"docrag/internal/domain"
	"docrag/internal/usecase"
)

var (
	indexNamespace string
	indexReset     bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a file or directory for retrieval",
	Long: `Index a file, or every matching file under a directory, into the vector store.

Unchanged files are skipped without calling the embedding provider. Files that
were edited are re-embedded and their old chunks removed. Files no longer
present are deleted from the index.

Examples:
  docrag index doc.txt          # Index one file
  docrag index ./docs           # Index a directory
  docrag index ./docs --reset   # Drop the namespace and rebuild it`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationCredentials: needsEmbedding},
	RunE:        runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexNamespace, "namespace", "", "index namespace (default from config)")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "delete everything indexed in the namespace first")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	namespace := resolveNamespace(indexNamespace)

	c, err := openComponents(ctx, cfg, creds, logger, openOptions{namespace: namespace, reset: indexReset})
	if err != nil {
		return err
	}
	defer c.Close()

	if indexReset {
		n, err := resetNamespace(ctx, c)
		if err != nil {
			return err
		}
		fmt.Println(warningStyle.Render(fmt.Sprintf("Reset namespace %s (%d sources removed)", namespace, n)))
	}

	fmt.Printf("Scanning %s...\n", path)
	result, err := indexPath(ctx, c, path, os.Stdout)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	printIndexResult(os.Stdout, result)
	return nil
}

func resolveNamespace(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Index.Namespace
}

// resetNamespace removes the vectors of every ledgered source, then the
// ledger records themselves. Other namespaces are untouched.
func resetNamespace(ctx context.Context, c *components) (int, error) {
	records, err := c.ledger.Records(ctx, c.namespace)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if _, err := c.store.DeleteBySource(ctx, rec.SourceKey); err != nil {
			return 0, err
		}
	}
	return c.ledger.Clear(ctx, c.namespace)
}

// indexPath loads every file under path and reconciles the namespace of c to
// exactly those files. Any loading error aborts before the index is touched.
func indexPath(ctx context.Context, c *components, path string, out io.Writer) (*domain.IndexResult, error) {
	walker := fs.NewWalker(c.cfg.Index.Includes, c.cfg.Index.Excludes)
	files, err := walker.Walk(path)
	if err != nil {
		return nil, err
	}

	ld, err := c.loader()
	if err != nil {
		return nil, err
	}

	var docs []domain.Document
	for _, f := range files {
		d, err := ld.LoadFile(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d...)
	}
	c.logger.Debug("loaded documents", "files", len(files), "chunks", len(docs))

	result, err := c.indexUseCase().Index(ctx, docs, usecase.IndexOptions{
		Namespace: c.namespace,
		Cleanup:   usecase.CleanupFull,
		Progress:  newProgress(out),
	})
	// entries may have changed even when the run failed part way
	c.cache.Invalidate()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// newProgress returns a callback drawing a bar sized on the first call.
func newProgress(out io.Writer) func(done, total int) {
	var bar *progressbar.ProgressBar
	var startTime time.Time

	return func(done, total int) {
		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(out)
				}),
			)
		}

		bar.Set(done)

		if done > 0 && done < total {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

func printIndexResult(out io.Writer, r *domain.IndexResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, successStyle.Render("Indexing complete:"))
	fmt.Fprintf(out, "  Chunks added:    %d\n", r.Added)
	fmt.Fprintf(out, "  Chunks skipped:  %d (unchanged)\n", r.Skipped)
	fmt.Fprintf(out, "  Entries deleted: %d (stale or replaced)\n", r.Deleted)
	if r.Added == 0 && r.Deleted == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  Index already up to date."))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
