package pcap

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// GenerateOptions shapes a synthetic capture.
type GenerateOptions struct {
	Packets int
	// Flows is the number of distinct 5-tuples packets are drawn from.
	Flows int
	Start time.Time
	// Span is spread evenly across the packet timestamps.
	Span time.Duration
	Seed int64
}

type synthFlow struct {
	src, dst         net.IP
	srcPort, dstPort uint16
	udp              bool
}

// Generate writes a classic pcap of random TCP and UDP traffic to w.
func Generate(w io.Writer, opts GenerateOptions) error {
	if opts.Packets <= 0 {
		return fmt.Errorf("packet count must be positive")
	}
	if opts.Flows <= 0 {
		opts.Flows = 1
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	rnd := rand.New(rand.NewSource(opts.Seed))
	flows := make([]synthFlow, opts.Flows)
	for i := range flows {
		flows[i] = synthFlow{
			src:     net.IP{10, byte(rnd.Intn(256)), byte(rnd.Intn(256)), byte(rnd.Intn(254) + 1)},
			dst:     net.IP{192, 168, byte(rnd.Intn(256)), byte(rnd.Intn(254) + 1)},
			srcPort: uint16(rnd.Intn(65535-1024) + 1024),
			dstPort: uint16([]int{53, 80, 443, 8080}[rnd.Intn(4)]),
			udp:     rnd.Intn(4) == 0,
		}
	}

	intervals := int64(opts.Packets - 1)
	offset := func(i int) time.Duration {
		if intervals == 0 {
			return 0
		}
		span := int64(opts.Span)
		return time.Duration(span/intervals*int64(i) + span%intervals*int64(i)/intervals)
	}
	buf := gopacket.NewSerializeBuffer()
	serialize := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	for i := 0; i < opts.Packets; i++ {
		f := flows[rnd.Intn(len(flows))]
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: f.src, DstIP: f.dst}
		payload := make([]byte, rnd.Intn(1400)+50)
		rnd.Read(payload)

		var l4 gopacket.SerializableLayer
		if f.udp {
			ip.Protocol = layers.IPProtocolUDP
			udp := &layers.UDP{SrcPort: layers.UDPPort(f.srcPort), DstPort: layers.UDPPort(f.dstPort)}
			udp.SetNetworkLayerForChecksum(ip)
			l4 = udp
		} else {
			ip.Protocol = layers.IPProtocolTCP
			tcp := &layers.TCP{
				SrcPort: layers.TCPPort(f.srcPort),
				DstPort: layers.TCPPort(f.dstPort),
				Seq:     rnd.Uint32(),
				ACK:     true,
				Ack:     rnd.Uint32(),
				Window:  14600,
			}
			tcp.SetNetworkLayerForChecksum(ip)
			l4 = tcp
		}

		if err := gopacket.SerializeLayers(buf, serialize, eth, ip, l4, gopacket.Payload(payload)); err != nil {
			return fmt.Errorf("failed to serialize layers: %w", err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     opts.Start.Add(offset(i)),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return nil
}
