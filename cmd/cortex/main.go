package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openclaw/cortex/ai"
	"github.com/openclaw/cortex/internal/profile"
	"github.com/openclaw/cortex/internal/version"
	"github.com/openclaw/cortex/server"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/store/db"
	"github.com/openclaw/cortex/vector"
)

const (
	greetingBanner = `
 ██████╗ ██████╗ ██████╗ ████████╗███████╗██╗  ██╗
██╔════╝██╔═══██╗██╔══██╗╚══██╔══╝██╔════╝╚██╗██╔╝
██║     ██║   ██║██████╔╝   ██║   █████╗   ╚███╔╝
██║     ██║   ██║██╔══██╗   ██║   ██╔══╝   ██╔██╗
╚██████╗╚██████╔╝██║  ██║   ██║   ███████╗██╔╝ ██╗
 ╚═════╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝
`
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "A personal memory service with hybrid retrieval",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		instance := &profile.Profile{
			Mode:   viper.GetString("mode"),
			Addr:   viper.GetString("addr"),
			Port:   viper.GetInt("port"),
			Data:   viper.GetString("data"),
			Driver: viper.GetString("driver"),
			DSN:    viper.GetString("dsn"),
		}
		instance.FromEnv()
		instance.Version = version.GetCurrentVersion(instance.Mode)
		if err := instance.Validate(); err != nil {
			return fmt.Errorf("invalid profile: %w", err)
		}

		logger := newLogger(instance)
		slog.SetDefault(logger)
		logger.InfoContext(ctx, "starting cortex",
			slog.String("version", version.String()),
			slog.String("commit", version.GitCommit),
			slog.String("build_time", version.BuildTime))

		dbDriver, err := db.NewDBDriver(instance)
		if err != nil {
			return fmt.Errorf("failed to create db driver: %w", err)
		}
		storeInstance := store.New(dbDriver, instance)
		if err := storeInstance.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		embedder := newEmbedder(ctx, instance, logger)
		index := newVectorIndex(ctx, instance, storeInstance, embedder, logger)

		s, err := server.NewServer(ctx, instance, storeInstance, index, embedder, logger)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		printGreetings(instance)

		go func() {
			<-ctx.Done()
			s.Shutdown(context.Background())
		}()
		return s.Start(ctx)
	},
}

// newEmbedder creates the embedding service, or nil when no provider is
// configured. The service then runs without semantic retrieval.
func newEmbedder(ctx context.Context, instance *profile.Profile, logger *slog.Logger) ai.EmbeddingService {
	if !instance.IsEmbeddingEnabled() {
		logger.WarnContext(ctx, "no embedding provider configured, semantic retrieval disabled")
		return nil
	}
	embedder, err := ai.NewEmbeddingService(ai.NewEmbeddingConfigFromProfile(instance))
	if err != nil {
		logger.WarnContext(ctx, "failed to create embedding service, semantic retrieval disabled", slog.Any("error", err))
		return nil
	}
	return embedder
}

// newVectorIndex provisions the vector index at startup. Provisioning
// failures are surfaced but not fatal: retrieval degrades to lexical-only.
func newVectorIndex(ctx context.Context, instance *profile.Profile, storeInstance *store.Store, embedder ai.EmbeddingService, logger *slog.Logger) vector.Index {
	if embedder == nil {
		return nil
	}

	var index vector.Index
	switch instance.VectorBackend {
	case "pgvector":
		index = vector.NewPgvectorIndex(storeInstance.GetDriver().GetDB(), instance.VectorIndex, instance.EmbeddingDimensions)
	default:
		index = vector.NewChromemIndex(instance.Data, instance.VectorIndex)
	}

	if err := index.EnsureReady(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to provision vector index, semantic retrieval disabled",
			slog.String("backend", instance.VectorBackend),
			slog.String("index", instance.VectorIndex),
			slog.Any("error", err))
		return nil
	}
	logger.InfoContext(ctx, "vector index ready",
		slog.String("backend", instance.VectorBackend),
		slog.String("index", instance.VectorIndex))
	return index
}

func newLogger(instance *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if instance.IsDev() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func printGreetings(instance *profile.Profile) {
	fmt.Print(greetingBanner)
	fmt.Printf("version %s, mode %s, driver %s\n", instance.Version, instance.Mode, instance.Driver)
	fmt.Printf("listening on %s:%d\n", instance.Addr, instance.Port)
}

func init() {
	rootCmd.PersistentFlags().String("mode", "demo", `mode of the server, can be "demo", "dev" or "prod"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("cortex")
	viper.AutomaticEnv()
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
