package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskagent/internal/agent"
	"taskagent/internal/config"
	"taskagent/internal/logger"
	"taskagent/internal/server"
	"taskagent/internal/services"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:          "taskagent",
		Short:        "Task assistant backed by a hosted or local chat agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+config.DefaultConfigFile+")")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, initializes logging and opens the task store.
func setup() (*config.Config, *services.SQLiteTaskService, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Pretty)
	logger.Get().Info().
		Str("backend", cfg.Backend).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := services.NewSQLiteTaskService(cfg.Tasks.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open task store: %w", err)
	}
	return cfg, store, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx := context.Background()
			handlers := &server.Handlers{
				Agent:   agent.New(ctx, cfg, store),
				Tasks:   store,
				Backend: cfg.Backend,
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           server.NewRouter(handlers),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				// agent replies can take a while
				WriteTimeout: 2 * time.Minute,
				IdleTimeout:  120 * time.Second,
			}

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logger.Get().Info().Str("addr", srv.Addr).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				_ = handlers.Shutdown(ctx)
				return fmt.Errorf("server failed: %w", err)
			case <-done:
			}
			logger.Get().Info().Msg("Shutting down server")

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Get().Error().Err(err).Msg("Server shutdown failed")
			}
			return handlers.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := agent.New(ctx, cfg, store)
			defer func() {
				if err := a.Cleanup(context.Background()); err != nil {
					logger.Get().Error().Err(err).Msg("Agent cleanup failed")
				}
			}()

			label := "Claude"
			if cfg.Backend == config.BackendFoundry {
				label = "Agent"
			}

			return chatLoop(ctx, a, label, os.Stdin, os.Stdout)
		},
	}
}

// resetter is implemented by agents that hold their conversation locally.
type resetter interface {
	Reset()
}

// chatLoop reads one message per line from in and prints the agent's reply.
// It returns on EOF or when ctx is cancelled, even while waiting for input.
func chatLoop(ctx context.Context, a agent.TaskAgent, label string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Chat with the agent (use '/reset' to start over, 'ctrl-c' to quit)")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(out, "\u001b[94mYou\u001b[0m: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-scanErr
			}
			line = l
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/reset" {
			if r, ok := a.(resetter); ok {
				r.Reset()
				fmt.Fprintln(out, "Conversation cleared.")
			} else {
				fmt.Fprintln(out, "This agent keeps its conversation remotely; nothing to clear.")
			}
			continue
		}

		reply := a.ProcessMessage(ctx, input)
		if ctx.Err() != nil {
			fmt.Fprintln(out)
			return nil
		}
		fmt.Fprintf(out, "\u001b[95m%s\u001b[0m: %s\n", label, reply.Content)
	}
}
