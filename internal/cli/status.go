package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusNamespace string

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show what is indexed in a namespace",
	Annotations: map[string]string{annotationCredentials: needsEmbedding},
	RunE:        runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusNamespace, "namespace", "", "index namespace (default from config)")
}

// sourceCounter is implemented by stores that can count entries per source.
type sourceCounter interface {
	Sources(ctx context.Context) (map[string]int, error)
}

type fileStore interface {
	Path() string
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	namespace := resolveNamespace(statusNamespace)

	c, err := openComponents(ctx, cfg, creds, logger, openOptions{namespace: namespace})
	if err != nil {
		return err
	}
	defer c.Close()

	records, err := c.ledger.Records(ctx, namespace)
	if err != nil {
		return err
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("docrag status"))
	fmt.Printf("  Namespace:  %s\n", namespace)
	fmt.Printf("  Backend:    %s (collection %s)\n", cfg.Store.Backend, c.collection)
	if f, ok := c.store.(fileStore); ok {
		fmt.Printf("  Store file: %s\n", f.Path())
	}
	fmt.Printf("  Embedder:   %s\n", c.embedder.ModelName())
	fmt.Printf("  Ledger:     %s\n", c.ledger.Path())
	fmt.Printf("  Sources:    %d\n", len(records))
	fmt.Printf("  Vectors:    %d\n", count)

	if len(records) == 0 {
		fmt.Println(mutedStyle.Render("\nNothing indexed yet. Run 'docrag index' first."))
		return nil
	}

	var stored map[string]int
	if sc, ok := c.store.(sourceCounter); ok {
		if stored, err = sc.Sources(ctx); err != nil {
			return err
		}
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tCHUNKS\tSTORED\tINDEXED")
	for _, rec := range records {
		state := fmt.Sprintf("%d", len(rec.ChunkHashes))
		if rec.Pending() {
			state = "pending"
		}
		entries := "-"
		if stored != nil {
			entries = fmt.Sprintf("%d", stored[rec.SourceKey])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.SourceKey, state, entries, rec.LastIndexedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
