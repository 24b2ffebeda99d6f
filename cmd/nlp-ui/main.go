// Package main implements the nlp-ui document question-answering server and CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/ingest"
	"github.com/satyawork/nlp-ui/pkg/config"
	"github.com/satyawork/nlp-ui/pkg/natsutil"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func main() {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "nlp-ui",
		Short: "Upload documents and ask questions about them",
		Long: "nlp-ui indexes uploaded documents into per-document vector collections " +
			"and answers questions with a language model grounded on the retrieved passages.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file (default $CONFIG_FILE)")

	rootCmd.AddCommand(c.createServeCommand())
	rootCmd.AddCommand(c.createIndexCommand())
	rootCmd.AddCommand(c.createAskCommand())
	rootCmd.AddCommand(c.createCollectionsCommand())
	rootCmd.AddCommand(c.createWatchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger. The server logs to
// stdout; other commands keep stdout for their output.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	var out io.Writer = cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		out = cmd.OutOrStdout()
	}
	c.cfg = cfg
	c.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(c.logger)
	return nil
}

// open connects the backends and wires the pipelines.
func (c *cli) open() (*app, func(), error) {
	b, err := connect(c.cfg, c.logger)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(c.cfg, b, c.logger)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return a, b.Close, nil
}

func (c *cli) createServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the HTTP API serving /upload, /collections, /ask, /health and /metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				c.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := a.serve(ctx); err != nil {
				c.logger.Error("server exited with error", "err", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Server port (overrides PORT)")
	return cmd
}

func (c *cli) createIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index documents without going through the HTTP API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()

			return indexFiles(cmd.Context(), a, cmd.OutOrStdout(), args)
		},
	}
	return cmd
}

func (c *cli) createAskCommand() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about an indexed document",
		Long:  "Ask a question about an indexed document and print the model response JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()

			raw, err := a.Ask(cmd.Context(), domain.Question{Text: args[0], Collection: collection})
			if err != nil {
				return fmt.Errorf("%s: %w", classify(err).msg, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "k", "", "Collection to search (or end the question with \"from collection <name>\")")
	return cmd
}

func (c *cli) createCollectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List indexed collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := c.open()
			if err != nil {
				return err
			}
			defer closeFn()

			names, err := a.Collections(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (c *cli) createWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print document-indexed events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.NATS.URL == "" {
				return errNoNATS
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			nc, err := natsutil.Connect(c.cfg.NATS.URL, "nlp-ui-watch", c.logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			return watch(ctx, cmd.OutOrStdout(), func(handler func(context.Context, ingest.DocumentIndexed)) (func() error, error) {
				sub, err := ingest.WatchIndexed(nc, c.cfg.NATS.Subject, handler, c.logger)
				if err != nil {
					return nil, err
				}
				return sub.Unsubscribe, nil
			})
		},
	}
}

// indexFiles uploads each file and writes one JSON result line per file.
func indexFiles(ctx context.Context, a *app, w io.Writer, paths []string) error {
	enc := json.NewEncoder(w)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := a.Upload(ctx, domain.Upload{Filename: filepath.Base(path), Data: data})
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}

// watch writes one JSON line per event until ctx is done.
func watch(ctx context.Context, w io.Writer, subscribe func(func(context.Context, ingest.DocumentIndexed)) (func() error, error)) error {
	events := make(chan ingest.DocumentIndexed, 64)
	unsubscribe, err := subscribe(func(_ context.Context, ev ingest.DocumentIndexed) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
