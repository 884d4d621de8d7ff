package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"docrag/config"
	"docrag/internal/logging"
	"docrag/internal/observability"
)

// Command annotations naming the credentials a command needs.
const (
	annotationCredentials = "credentials"
	needsEmbedding        = "embedding"
	needsGeneration       = "generation"
)

var (
	cfgFile   string
	envFile   string
	rootDir   string
	ephemeral bool

	cfg    *config.Config
	creds  config.Credentials
	logger *slog.Logger
	tracer *observability.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Index local documents and answer questions over them",
	Long: `docrag embeds local text files into a persistent vector index and answers
natural-language questions from it, either by printing the closest chunks or by
asking a language model for a one-line answer grounded in them.

Re-indexing is incremental: unchanged files are never re-embedded, and files
that disappeared are removed from the index.

Example usage:
  docrag index ./docs                    # Index a directory
  docrag query -q "What color is the sky?"
  docrag ask                             # Interactive answers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if err := config.LoadEnv(envFile); err != nil {
			return err
		}

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if ephemeral {
			cfg.Store.Backend = "memory"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		switch cmd.Annotations[annotationCredentials] {
		case needsEmbedding:
			creds, err = cfg.Credentials(false)
		case needsGeneration:
			creds, err = cfg.Credentials(true)
		}
		if err != nil {
			return err
		}

		tracer, err = observability.InitTracing(cmd.Context(), &observability.TracingConfig{
			ServiceName:  cfg.Tracing.ServiceName,
			OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
			SampleRate:   cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if tracer != nil {
		if serr := tracer.Shutdown(context.Background()); serr != nil {
			fmt.Fprintln(os.Stderr, warningStyle.Render("tracing shutdown: ")+serr.Error())
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docrag.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with provider credentials")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "directory to look for config in (default is current directory)")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep vectors and the ledger in memory for this run only")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
