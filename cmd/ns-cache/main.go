package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/manager"
	"Go2NetCache/internal/engine/streamaggregator"
	"Go2NetCache/internal/logging"
	"Go2NetCache/internal/model"
	"Go2NetCache/internal/probe"
	"Go2NetCache/internal/server"
	"Go2NetCache/internal/writer"
	"Go2NetCache/pkg/pcap"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	log        logging.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{log: logging.NewConfig()}
	cmd := &cobra.Command{
		Use:          "ns-cache",
		Short:        "Time-bucketed traffic accounting cache",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	opts.log.Flags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCommand(opts), newReplayCommand(opts), newInspectCommand())
	return cmd
}

func (o *options) load() (*config.Config, *zap.Logger, error) {
	logger, err := o.log.NewStderr()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Configuration loaded", zap.String("path", o.configPath))
	return cfg, logger, nil
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume records from NATS and flush them on the refresh timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return run(cfg, logger)
		},
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	mgr, err := manager.NewManager(cfg, manager.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	srv := server.New(cfg.API, mgr, logger)
	if err := srv.Start(); err != nil {
		_ = mgr.Stop()
		return err
	}

	sub, err := probe.NewSubscriber(cfg.Probe, logger)
	if err != nil {
		_ = mgr.Stop()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	agg := streamaggregator.NewStreamAggregator(sub, mgr, logger)

	mgr.Start()
	if err := agg.Start(); err != nil {
		sub.Close()
		_ = mgr.Stop()
		return err
	}
	srv.SetServing(true)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

wait:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				if err := mgr.ReloadLookups(); err != nil {
					logger.Warn("Lookup reload failed", zap.Error(err))
				}
				continue
			}
			logger.Info("Shutdown signal received", zap.Stringer("signal", sig))
			break wait
		case <-mgr.Done():
			logger.Error("Ingestion stopped", zap.Error(mgr.Err()))
			break wait
		}
	}

	srv.SetServing(false)
	agg.Stop()
	stopErr := mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("API server shutdown failed", zap.Error(err))
	}
	if stopErr != nil {
		return stopErr
	}
	return mgr.Err()
}

func newReplayCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Account a capture file using its own timestamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return replay(cmd.Context(), cfg, args[0], logger)
		},
	}
}

func replay(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) error {
	cfg.Cache.HistoricalAccounting = true

	reader, err := pcap.NewReader(path, logger)
	if err != nil {
		return err
	}
	defer reader.Close()

	mgr, err := manager.NewManager(cfg, manager.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	mgr.Start()

	start := time.Now()
	n, readErr := reader.ReadPackets(func(info *model.PacketInfo) bool {
		if ctx.Err() != nil {
			return false
		}
		return mgr.Submit(info)
	})
	if err := mgr.Stop(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	if err := mgr.Err(); err != nil {
		return err
	}

	logger.Info("Replay finished", zap.Int("packets", n), zap.Duration("elapsed", time.Since(start)))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(mgr.Stats())
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <records.dat>",
		Short: "Print the records of a gob writer output file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := writer.ReadGob(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
}
