package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/config"
	"github.com/livetemplate/formwizard/internal/server"
	"github.com/livetemplate/formwizard/internal/store"
)

// shutdownTimeout bounds the graceful shutdown, including the final flush of
// pending saves.
const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	dir        string
	configPath string
	port       string
	host       string
	watch      bool
}

func parseServeArgs(args []string) serveOptions {
	opts := serveOptions{dir: "."}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--watch" || arg == "-w":
			opts.watch = true
		case arg == "--port" || arg == "-p":
			if i+1 < len(args) {
				opts.port = args[i+1]
				i++
			}
		case arg == "--host":
			if i+1 < len(args) {
				opts.host = args[i+1]
				i++
			}
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				opts.configPath = args[i+1]
				i++
			}
		case !strings.HasPrefix(arg, "-"):
			// Positional argument (directory)
			opts.dir = arg
		}
	}
	return opts
}

// loadConfig reads configPath when given, else looks in dir.
func loadConfig(dir, configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("directory does not exist: %s", dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	cfg, err := config.LoadFromDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// serveConfig loads the config and applies the command-line overrides.
func serveConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := loadConfig(opts.dir, opts.configPath)
	if err != nil {
		return nil, err
	}

	// CLI flags override config
	if opts.port != "" {
		portInt, err := strconv.Atoi(opts.port)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", opts.port)
		}
		cfg.Server.Port = portInt
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.watch {
		cfg.I18n.Watch = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ServeCommand implements the serve command.
func ServeCommand(args []string) error {
	cfg, err := serveConfig(parseServeArgs(args))
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	srv, err := server.New(cfg, server.Options{Store: st, Logger: logger})
	if err != nil {
		return err
	}
	if cfg.I18n.Watch {
		if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}

	fmt.Printf("📋 %s\n\n", cfg.Title)
	fmt.Printf("🌐 Server running at http://%s\n", cfg.Server.Addr())
	fmt.Printf("💾 Storage: %s\n", cfg.Storage.Driver)
	if cfg.Submission.WebhookURL != "" {
		fmt.Printf("📤 Submissions: %s\n", cfg.Submission.WebhookURL)
	} else {
		fmt.Printf("📤 Submissions: simulated (%s)\n", cfg.Submission.GetDelay())
	}
	if cfg.I18n.Watch {
		fmt.Printf("👀 Watching %s for catalog changes\n", cfg.I18n.Dir)
	}
	fmt.Printf("Press Ctrl+C to stop\n\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
