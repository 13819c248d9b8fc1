package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmind-dev/docmind/internal/janitor"
	"github.com/docmind-dev/docmind/pkg/assistant"
	"github.com/docmind-dev/docmind/pkg/config"
	"github.com/docmind-dev/docmind/pkg/observability"
	"github.com/docmind-dev/docmind/pkg/session"
)

// Version information (set via ldflags)
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:     "docmind",
		Short:   "Documentation assistant with persistent session memory",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("DOCMIND_CONFIG"), "Configuration file")

	root.AddCommand(
		newAskCmd(),
		newReportCmd(),
		newServeCmd(),
		newCleanupCmd(),
		newStatsCmd(),
		newSessionsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openBackend builds the configured storage backend.
func openBackend(cfg *config.Config) (session.StorageBackend, error) {
	switch cfg.Storage.Backend {
	case "file":
		return session.NewFileBackend(cfg.Storage.Dir)
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			path = home + "/.docmind/sessions.db"
		}
		return session.NewSQLiteBackend(path)
	case "redis":
		return session.NewRedisBackend(session.RedisConfig{
			Addr:       cfg.Storage.RedisAddr,
			Password:   cfg.Storage.RedisPassword,
			DB:         cfg.Storage.RedisDB,
			Prefix:     cfg.Storage.RedisPrefix,
			SessionTTL: cfg.Storage.SessionTTL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func openStore(cfg *config.Config) (*session.Store, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	keywords, err := loadKeywords(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	store, err := session.NewStore(cfg.Session, backend, keywords)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

func loadKeywords(cfg *config.Config) (session.KeywordTable, error) {
	if cfg.Classifier.KeywordsPath == "" {
		return nil, nil
	}
	return session.LoadKeywordTable(cfg.Classifier.KeywordsPath)
}

func newEstimator(cfg *config.Config) (session.TokenEstimator, error) {
	switch cfg.Assembler.Estimator {
	case "", "heuristic":
		return session.HeuristicEstimator{}, nil
	case "tiktoken":
		return session.NewTiktokenEstimator(cfg.Assembler.Encoding)
	default:
		return nil, fmt.Errorf("unknown estimator: %s", cfg.Assembler.Estimator)
	}
}

func newHandler(cfg *config.Config, store *session.Store) (*assistant.Handler, error) {
	estimator, err := newEstimator(cfg)
	if err != nil {
		return nil, err
	}

	keywords, err := loadKeywords(cfg)
	if err != nil {
		return nil, err
	}

	responder, err := assistant.NewOpenAIResponder(cfg.OpenAIKey, cfg.Model, cfg.Temperature)
	if err != nil {
		return nil, err
	}

	return assistant.NewHandler(
		store,
		session.NewAssembler(estimator, cfg.Session),
		session.NewClassifier(keywords),
		responder,
		assistant.HandlerOptions{
			TokenBudget:  cfg.Assembler.TokenBudget,
			RateLimit:    cfg.Server.RateLimit,
			RateBurst:    cfg.Server.RateBurst,
			DedupeWindow: cfg.Classifier.DedupeWindow,
		},
	), nil
}

func newAskCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question within the project's session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			handler, err := newHandler(cfg, store)
			if err != nil {
				return err
			}

			answer, err := handler.Ask(cmd.Context(), project, strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Println(answer.Text)
			for _, m := range answer.Moments {
				fmt.Printf("[moment] %s: %s\n", m.Type, m.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "default", "Project name")
	return cmd
}

func newReportCmd() *cobra.Command {
	var project string
	var files []string

	cmd := &cobra.Command{
		Use:   "report [note]",
		Short: "Record a progress note in the project's session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			keywords, err := loadKeywords(cfg)
			if err != nil {
				return err
			}

			sess, err := store.GetOrCreate(cmd.Context(), project)
			if err != nil {
				return err
			}

			note := strings.Join(args, " ")
			msg, err := sess.Append(cmd.Context(), session.Message{Role: session.RoleUser, Content: note, Files: files})
			if err != nil {
				return err
			}

			classifier := session.NewClassifier(keywords)
			for _, cand := range classifier.Classify(msg.ID, note, files) {
				moment, err := sess.RecordMoment(cmd.Context(), cand)
				if err != nil {
					return err
				}
				fmt.Printf("[moment] %s (%d): %s\n", moment.Type, moment.Importance, moment.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "default", "Project name")
	cmd.Flags().StringSliceVarP(&files, "files", "f", nil, "Files touched by this note")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics server and retention janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Printf("Starting docmind v%s", Version)

			observability.InitMetrics()
			if err := observability.InitTracingFromEnv(); err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			healthChecker := observability.NewChecker()
			healthChecker.Register(observability.StorageCheck(func(ctx context.Context) error {
				if err := store.Ping(ctx); err != nil {
					return err
				}
				// Refreshes the active-session gauge on every poll.
				_, err := store.Stats(ctx)
				return err
			}))
			if cfg.OpenAIKey != "" {
				responder, err := assistant.NewOpenAIResponder(cfg.OpenAIKey, cfg.Model, cfg.Temperature)
				if err != nil {
					return err
				}
				healthChecker.Register(observability.LLMCheck(responder.Healthcheck))
			}

			obsServer := observability.NewServer(cfg.Server.MetricsPort, healthChecker)
			errChan := make(chan error, 1)
			go func() {
				log.Printf("Metrics server listening on :%d", cfg.Server.MetricsPort)
				if err := obsServer.Start(); err != nil {
					errChan <- fmt.Errorf("metrics server error: %w", err)
				}
			}()

			var jan *janitor.Janitor
			if cfg.Cleanup.Schedule != "" {
				jan = janitor.New(store, cfg.Cleanup.ArchiveAfter, cfg.Cleanup.DeleteAfter)
				if err := jan.Start(cfg.Cleanup.Schedule); err != nil {
					return fmt.Errorf("start janitor: %w", err)
				}
				log.Printf("Janitor scheduled: %s", cfg.Cleanup.Schedule)
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errChan:
				log.Printf("Error: %v", err)
			case <-quit:
				log.Println("Shutting down...")
			}

			if jan != nil {
				jan.Stop()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := obsServer.Shutdown(ctx); err != nil {
				log.Printf("Metrics server shutdown error: %v", err)
			}
			if err := observability.ShutdownTracing(ctx); err != nil {
				log.Printf("Tracing shutdown error: %v", err)
			}

			log.Println("Stopped")
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			jan := janitor.New(store, cfg.Cleanup.ArchiveAfter, cfg.Cleanup.DeleteAfter)
			archived, deleted, err := jan.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Archived %d, deleted %d sessions\n", archived, deleted)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Sessions: %d\n", stats.TotalSessions)
			fmt.Printf("Projects: %d\n", stats.UniqueProjects)
			for status, count := range stats.ByStatus {
				fmt.Printf("  %s: %d\n", status, count)
			}
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [project]",
		Short: "List a project's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			metas, err := store.ListProjectSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			for _, m := range metas {
				fmt.Printf("%s  %-8s  %4d msgs  last used %s\n",
					m.ID, m.Status, m.MessageCount, m.LastUsedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
