package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/protocol"
	"Go2NetCache/internal/logging"
	"Go2NetCache/internal/model"
	"Go2NetCache/internal/probe"
	nspcap "Go2NetCache/pkg/pcap"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const promiscuous = true

type options struct {
	probe config.ProbeConfig
	log   logging.Config
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
		Use:          "ns-probe",
		Short:        "Capture packets and publish decoded records to NATS",
		SilenceUsage: true,
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.probe.NATSURL, "nats-url", config.DefaultNATSURL, "NATS server URL")
	fs.StringVar(&opts.probe.Subject, "subject", config.DefaultSubject, "NATS subject")
	opts.log.Flags(fs)

	cmd.AddCommand(newCaptureCommand(opts), newFileCommand(opts), newTailCommand(opts), newGenerateCommand(opts))
	return cmd
}

func newCaptureCommand(opts *options) *cobra.Command {
	var (
		iface   string
		filter  string
		snaplen int32
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture live traffic from an interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.log.NewStderr()
			if err != nil {
				return err
			}
			defer logger.Sync()

			handle, err := pcap.OpenLive(iface, snaplen, promiscuous, pcap.BlockForever)
			if err != nil {
				return fmt.Errorf("error opening device %s: %w", iface, err)
			}
			defer handle.Close()
			if filter != "" {
				if err := handle.SetBPFFilter(filter); err != nil {
					return fmt.Errorf("invalid filter %q: %w", filter, err)
				}
			}

			pub, err := probe.NewPublisher(opts.probe, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer pub.Close()

			logger.Info("Capture started", zap.String("iface", iface), zap.String("filter", filter))
			packets := gopacket.NewPacketSource(handle, handle.LinkType()).Packets()
			published := 0
			for {
				select {
				case <-cmd.Context().Done():
					logger.Info("Capture stopped", zap.Int("published", published))
					return nil
				case packet, ok := <-packets:
					if !ok {
						return nil
					}
					info, err := protocol.ParsePacket(packet)
					if err != nil {
						continue
					}
					if err := pub.Publish(info); err != nil {
						logger.Warn("Failed to publish packet", zap.Error(err))
						continue
					}
					published++
					if published%10000 == 0 {
						logger.Debug("Packets published", zap.Int("count", published))
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture from")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "BPF filter expression")
	cmd.Flags().Int32Var(&snaplen, "snaplen", 1600, "capture snapshot length")
	_ = cmd.MarkFlagRequired("iface")
	return cmd
}

func newFileCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "file <capture.pcap>",
		Short: "Publish every packet of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.log.NewStderr()
			if err != nil {
				return err
			}
			defer logger.Sync()

			reader, err := nspcap.NewReader(args[0], logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			pub, err := probe.NewPublisher(opts.probe, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer pub.Close()

			var pubErr error
			n, err := reader.ReadPackets(func(info *model.PacketInfo) bool {
				if cmd.Context().Err() != nil {
					return false
				}
				pubErr = pub.Publish(info)
				return pubErr == nil
			})
			if err != nil {
				return err
			}
			if pubErr != nil {
				return fmt.Errorf("failed to publish packet: %w", pubErr)
			}
			logger.Info("Capture file published", zap.String("path", args[0]), zap.Int("packets", n))
			return nil
		},
	}
}

func newTailCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print records received on the subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.log.NewStderr()
			if err != nil {
				return err
			}
			defer logger.Sync()

			sub, err := probe.NewSubscriber(opts.probe, logger)
			if err != nil {
				return fmt.Errorf("failed to create subscriber: %w", err)
			}
			defer sub.Close()

			err = sub.Start(func(info *model.PacketInfo) bool {
				logger.Info("Received record",
					zap.Stringer("src", info.FiveTuple.SrcIP),
					zap.Stringer("dst", info.FiveTuple.DstIP),
					zap.Uint16("sport", info.FiveTuple.SrcPort),
					zap.Uint16("dport", info.FiveTuple.DstPort),
					zap.Uint8("proto", info.FiveTuple.Protocol),
					zap.Int("len", info.Length))
				return true
			})
			if err != nil {
				return fmt.Errorf("subscriber failed to start: %w", err)
			}
			<-cmd.Context().Done()
			return nil
		},
	}
}

func newGenerateCommand(opts *options) *cobra.Command {
	var gen nspcap.GenerateOptions
	var output string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic capture file for replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.log.NewStderr()
			if err != nil {
				return err
			}
			defer logger.Sync()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := nspcap.Generate(f, gen); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			logger.Info("Capture generated",
				zap.String("path", output),
				zap.Int("packets", gen.Packets),
				zap.Int("flows", gen.Flows),
				zap.Duration("span", gen.Span))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "test.pcap", "output pcap file path")
	cmd.Flags().IntVarP(&gen.Packets, "count", "c", 1000, "number of packets to generate")
	cmd.Flags().IntVar(&gen.Flows, "flows", 100, "number of distinct flows")
	cmd.Flags().DurationVar(&gen.Span, "span", 5*time.Minute, "time span covered by the packets")
	cmd.Flags().Int64Var(&gen.Seed, "seed", 1, "random seed")
	return cmd
}
