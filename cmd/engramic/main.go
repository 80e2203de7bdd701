// Package main provides the engramic binary entry point.
// Engramic is a retrieval-augmented memory engine: prompts and documents are
// broken into engrams, indexed into a vector store, and recalled to ground
// later answers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "engramic"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath   string
	profileName  string
	generateMock bool
	logLevel     string
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Retrieval-augmented memory engine",
		Long: `Engramic turns prompts and documents into engrams: short units of
memory with vector indices. Later prompts retrieve relevant engrams to
ground their answers, and validated answers are codified back into memory.

Services communicate over a topic bus and run under one supervising host.`,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.profileName, "profile", "", "Active plugin profile (e.g. mock, standard)")
	cmd.PersistentFlags().BoolVar(&flags.generateMock, "generate-mock-data", false, "Record every plugin call for later replay")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(flags))
	cmd.AddCommand(ingestCmd(flags))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := bootstrap(flags)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, logger, cfg, buildOptions{withGateway: true})
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.host.Start(ctx); err != nil {
				return err
			}
			logger.Info("engramic ready", "version", Version, "profile", cfg.Profile.Name)
			return a.host.WaitForShutdown(ctx, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop after this duration (0 = run until signalled)")
	return cmd
}

func ingestCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest one document and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := bootstrap(flags)
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(absPath); err != nil {
				return fmt.Errorf("cannot read %s: %w", absPath, err)
			}

			ctx := context.Background()
			a, err := buildApp(ctx, logger, cfg, buildOptions{
				senseRoot: filepath.Dir(absPath),
			})
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.host.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = a.host.Shutdown(ctx) }()

			return ingestFile(ctx, a, filepath.Base(absPath))
		},
	}
}

// ingestFile submits one file to the sense stage and waits for the progress
// tree to report the document fully inserted.
func ingestFile(ctx context.Context, a *app, fileName string) error {
	node, err := core.NewFileNode(core.FileRootResource, nil, fileName, core.NodeTypeFile, "")
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	if err := a.host.Bus().Subscribe(bus.TopicDocumentInserted, func(_ context.Context, data []byte) {
		var msg bus.DocumentInserted
		if err := bus.Decode(data, &msg); err != nil {
			return
		}
		if msg.DocumentID == node.ID {
			done <- nil
		}
	}); err != nil {
		return err
	}
	if err := a.host.Bus().Subscribe(bus.TopicProgressUpdated, func(_ context.Context, data []byte) {
		var msg bus.ProgressUpdated
		if err := bus.Decode(data, &msg); err != nil {
			return
		}
		if msg.TrackingID == node.TrackingID && msg.FailedMessage != "" {
			done <- fmt.Errorf("document rejected: %s", msg.FailedMessage)
		}
	}); err != nil {
		return err
	}

	if err := a.host.Bus().Publish(ctx, bus.TopicSubmitDocument, bus.SubmitDocument{Node: *node}); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		a.logger.Info("document ingested", "file", fileName, "document_id", node.ID)
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("ingest timed out after %s", shutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bootstrap resolves logging and configuration shared by every command.
func bootstrap(flags *rootFlags) (*slog.Logger, *config.Config, error) {
	level := slog.LevelInfo
	switch strings.ToLower(flags.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	overrides := &config.Config{}
	if flags.profileName != "" {
		overrides.Profile.Name = flags.profileName
	}
	if flags.generateMock {
		overrides.Profile.GenerateMockData = true
	}

	cfg, err := config.Load(flags.configPath, overrides)
	if err != nil {
		return nil, nil, err
	}
	return logger, cfg, nil
}
