package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/casehub/core/archive"
	"github.com/adalundhe/casehub/core/chat"
	"github.com/adalundhe/casehub/core/config"
	"github.com/adalundhe/casehub/core/events"
	"github.com/adalundhe/casehub/core/providers"
	"github.com/adalundhe/casehub/core/search"
	"github.com/adalundhe/casehub/core/server"
	"github.com/adalundhe/casehub/core/tickets"
	"github.com/adalundhe/casehub/core/tools"
	"github.com/adalundhe/casehub/core/watcher"
	"github.com/adalundhe/casehub/core/workspace"
)

var (
	serveConfigPath string
	serveWorkspace  string
	servePort       int
	serveVerbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workspace server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file")
	serveCmd.Flags().StringVarP(&serveWorkspace, "workspace", "w", "", "Workspace root (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if serveVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveWorkspace != "" {
		cfg.Workspace.Root = serveWorkspace
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	defer broker.Close()

	if err := os.MkdirAll(store.CasesDir(), 0o755); err != nil {
		return err
	}
	fw, err := watcher.New(watcher.Config{
		Root:            store.CasesDir(),
		ExcludePatterns: cfg.Watcher.ExcludePatterns,
		Debounce:        cfg.Watcher.Debounce,
		PollInterval:    cfg.Watcher.PollInterval,
	}, broker, logger)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	index := search.NewIndex(store, logger)
	if err := index.Rebuild(); err != nil {
		return fmt.Errorf("initial index build: %w", err)
	}
	defer index.Close()

	ticketClient := tickets.NewClient(tickets.Config{
		BaseURL:    cfg.Tickets.BaseURL,
		Email:      cfg.Tickets.Email,
		APIToken:   cfg.Tickets.APIToken,
		Timeout:    cfg.Tickets.Timeout,
		MaxRetries: cfg.Tickets.MaxRetries,
	})

	selector := providers.NewSelector(cfg.Providers, logger)

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterWorkspaceTools(registry, store, index); err != nil {
		return err
	}
	if err := tools.RegisterTicketTools(registry, ticketClient); err != nil {
		return err
	}

	engine := chat.NewEngine(selector, registry, store, logger)
	syncer := archive.NewSyncer(store, ticketClient, engine, cfg.Tickets.ProjectPrefix, logger)

	srv := server.New(store, broker, index, selector, engine, syncer, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("casehub starting", "workspace", store.Root(), "addr", addr)

	return srv.Serve(ctx, addr)
}
