package pcap

import (
	"fmt"
	"io"
	"os"

	"Go2NetCache/internal/engine/protocol"
	"Go2NetCache/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file   *os.File
	src    packetSource
	logger *zap.Logger
}

// NewReader opens filePath. Both classic pcap and pcapng are accepted.
func NewReader(filePath string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	var src packetSource
	if r, err := pcapgo.NewReader(f); err == nil {
		src = r
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open capture '%s': %w", filePath, err)
		}
		src = ng
	}
	return &Reader{file: f, src: src, logger: logger.With(zap.String("component", "pcap"))}, nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadPackets decodes every packet in the file and passes it to emit in
// file order, stopping early when emit returns false. Packets the decoder
// rejects are skipped. It returns the number of packets emitted.
func (r *Reader) ReadPackets(emit func(*model.PacketInfo) bool) (int, error) {
	source := gopacket.NewPacketSource(r.src, r.src.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	emitted, skipped := 0, 0
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return emitted, fmt.Errorf("failed to read packet: %w", err)
		}
		info, err := protocol.ParsePacket(packet)
		if err != nil {
			skipped++
			continue
		}
		emitted++
		if !emit(info) {
			break
		}
	}
	r.logger.Debug("Capture read", zap.Int("emitted", emitted), zap.Int("skipped", skipped))
	return emitted, nil
}
