package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/testgate/testgate/internal/config"
	"github.com/testgate/testgate/internal/engine"
	"github.com/testgate/testgate/internal/eventbus"
	"github.com/testgate/testgate/internal/eventrepo"
	"github.com/testgate/testgate/internal/fetch"
	"github.com/testgate/testgate/internal/provider"
	"github.com/testgate/testgate/internal/registry"
	"github.com/testgate/testgate/internal/store"
	"github.com/testgate/testgate/internal/suite"
)

var (
	// Global flags
	cfgPath   string
	dbPath    string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore     *store.Store
	globalEngine    *engine.Engine
	globalRegistry  *provider.Registry
	globalResolver  *registry.Client
	globalPublisher eventbus.Publisher
)

// initializeComponents initializes the global store, caches, clients,
// provider registry, and test run engine
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// Initialize store
	path := globalCfg.Server.DBPath
	if path == "" {
		path = "testgate.db"
	}
	st, err := store.New(path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	// Registry client with its process-wide token cache
	tokens := registry.NewTokenCache()
	globalResolver = registry.NewClient(tokens, globalCfg.Registry.Timeout(), logger)

	// Suite validator with its process-wide validation cache
	validationCache := suite.NewValidationCache(globalCfg.Validation.Window())
	validator := suite.NewValidator(globalResolver, validationCache, logger)
	validator.Attempts = globalCfg.Validation.Attempts
	validator.Workers = globalCfg.Validation.Workers

	// Suite definition download client
	fetcher := fetch.NewClient(globalCfg.Testrun.SuiteTimeout(), logger)

	// Event repository client for artifact lookups
	events := eventrepo.NewClient(
		globalCfg.EventRepository.URL,
		globalCfg.EventRepository.Timeout(),
		globalCfg.EventRepository.PollInterval(),
		logger,
	)

	// Announcement publisher; runs work without a broker, announcements
	// are just dropped
	if globalCfg.Messaging.Enabled() {
		pub := eventbus.NewAMQPPublisher(globalCfg.Messaging.URL, globalCfg.Messaging.Exchange, logger)
		if err := pub.Connect(); err != nil {
			logger.Warn("message bus unavailable, announcements will fail until it recovers", "error", err)
		}
		globalPublisher = pub
	} else {
		globalPublisher = eventbus.NewNopPublisher(logger)
	}

	// Provider registry, seeded from the store and the configured directories
	globalRegistry = provider.NewRegistry()
	if err := loadProviders(); err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	// Initialize test run engine
	globalEngine = engine.NewEngine(
		globalStore, validator, fetcher, events, globalRegistry, globalPublisher, globalCfg, logger,
	)

	logger.Info("components initialized successfully")
	return nil
}

// loadProviders fills the registry from previously persisted provider
// documents, then loads any documents found in the configured directories,
// persisting the ones that are new or changed.
func loadProviders() error {
	records, err := globalStore.ListProviders("")
	if err != nil {
		return fmt.Errorf("listing stored providers: %w", err)
	}
	for _, rec := range records {
		doc := provider.Document{
			Type: provider.Type(rec.Type),
			Name: rec.Name,
			Body: json.RawMessage(rec.Document),
		}
		if err := doc.Validate(); err != nil {
			logger.Warn("skipping invalid stored provider", "type", rec.Type, "name", rec.Name, "error", err)
			continue
		}
		globalRegistry.Register(doc)
	}

	loader := provider.NewLoader(logger)
	docs, err := loader.LoadAll(map[provider.Type]string{
		provider.TypeIUT:            globalCfg.Providers.IUTDir,
		provider.TypeExecutionSpace: globalCfg.Providers.ExecutionSpaceDir,
		provider.TypeLogArea:        globalCfg.Providers.LogAreaDir,
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		rec := &store.ProviderRecord{
			Type:     string(doc.Type),
			Name:     doc.Name,
			Document: string(doc.Body),
		}
		if err := globalStore.UpsertProvider(rec); err != nil {
			return fmt.Errorf("persisting provider %s/%s: %w", doc.Type, doc.Name, err)
		}
		globalRegistry.Register(doc)
	}

	if n := globalRegistry.Len(); n > 0 {
		logger.Info("providers loaded", "count", n)
	}
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
		"set":     true,
	}
	return skipInitCmds[cmdName]
}

// closeComponents closes the global store connection and the publisher
func closeComponents() {
	if globalPublisher != nil {
		if err := globalPublisher.Close(); err != nil {
			logger.Error("failed to close publisher", "error", err)
		}
	}
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testgate",
		Short: "HTTP front-door for a distributed test-execution platform",
		Long: `testgate accepts requests to start or abort test runs. It validates
test-suite definitions, confirms that every referenced test-runner image
exists in its container registry, resolves the artifact under test through
the event repository, binds resource providers, and announces accepted runs
on the message bus.`,
		Example: `  testgate serve --listen 0.0.0.0:8080
  testgate validate --url https://suites.example.com/regression.json
  testgate validate --file ./suite.json
  testgate resolve alpine:3.19 myregistry.example.com/team/runner:v2
  testgate providers list
  testgate status --limit 10`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dbPath != "" {
				globalCfg.Server.DBPath = dbPath
			}

			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "db_path", globalCfg.Server.DBPath)
			}

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeComponents()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newResolveCmd(),
		newProvidersCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
