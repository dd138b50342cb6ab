// Package app wires the command line surface of the order mesh binary. One
// binary ships all three roles; a subcommand picks which one a process runs.
package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	server "ordermesh/pkg/apiserver"
	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/observability"
)

// NewRootCommand creates the ordermesh root command with its role subcommands.
func NewRootCommand() *cobra.Command {
	cfg := config.NewConfig()

	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:          "ordermesh",
		Long:         `The asynchronous order service: accepts orders over HTTP, commits them through a broker-driven worker and pushes completions to connected users.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cfg.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newRoleCommand(cfg, "api", "Run the order acceptance API.", server.New),
		newRoleCommand(cfg, "worker", "Run the order processing worker.", server.NewWorker),
		newRoleCommand(cfg, "notifier", "Run the realtime notifier.", server.NewNotifier),
	)
	return root
}

func newRoleCommand(cfg *config.Config, use, short string, build func(config.Config) server.Server) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := cfg.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid configuration: %v", errs)
			}
			return runRole(use, cfg, build)
		},
	}
}

// runRole runs one role until a signal or a fatal error stops it.
func runRole(role string, cfg *config.Config, build func(config.Config) server.Server) error {
	errChan := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.EnableTracing {
		shutdown, err := observability.InitTracerProvider("ordermesh-"+role, cfg.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to init tracer provider: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				klog.ErrorS(err, "Failed to shutdown tracer provider")
			}
		}()
	}

	go func() {
		if err := build(*cfg).Run(ctx, errChan); err != nil {
			errChan <- fmt.Errorf("failed to run %s: %w", role, err)
		}
	}()

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)

	select {
	case <-term:
		klog.Infof("Received SIGTERM, exiting gracefully...")
	case err := <-errChan:
		klog.Errorf("Received an error: %s, exiting gracefully...", err.Error())
		return err
	}
	klog.Flush()
	return nil
}
