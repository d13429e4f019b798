package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/tablerr"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// TextWriter prints batches as aligned text. With a root path each batch
// goes to <root>/<window>/<table>.txt, otherwise to stdout.
type TextWriter struct {
	rootPath string
	tables   *tablerr.Selector
	logger   *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewTextWriter creates a text writer.
func NewTextWriter(rootPath string, tables *tablerr.Selector, logger *zap.Logger) (*TextWriter, error) {
	w := &TextWriter{rootPath: rootPath, tables: tables, logger: logger}
	if rootPath == "" {
		w.out = os.Stdout
	}
	return w, nil
}

// NewStreamTextWriter creates a text writer printing to out.
func NewStreamTextWriter(out io.Writer, tables *tablerr.Selector, logger *zap.Logger) *TextWriter {
	return &TextWriter{tables: tables, logger: logger, out: out}
}

func (w *TextWriter) Name() string { return "text" }

// Write prints, per window, one line per record followed by a totals line.
func (w *TextWriter) Write(ctx context.Context, b *cache.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, wr := range b.Windows() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.writeWindow(b, wr, i == 0); err != nil {
			return err
		}
	}
	return nil
}

func (w *TextWriter) writeWindow(b *cache.Batch, wr cache.WindowRecords, first bool) error {
	table := w.tables.Pick(wr.Basetime)

	out := w.out
	if out == nil {
		dir := filepath.Join(w.rootPath, windowDir(wr.Basetime))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create batch directory: %w", err)
		}
		path := filepath.Join(dir, table+".txt")
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create text file '%s': %w", path, err)
		}
		defer file.Close()
		out = file
	}

	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "# %s window=%s batch=%d\n", table, wr.Basetime.UTC().Format("2006-01-02 15:04:05"), b.Seq)
	for _, r := range wr.Records {
		fr := NewFlowRecord(r)
		fmt.Fprintf(bw, "%s bytes=%d (%s) packets=%d flows=%d\n",
			describe(&fr), fr.Bytes, humanize.IBytes(fr.Bytes), fr.Packets, fr.Flows)
	}
	s := summarize(table, b, wr, first)
	fmt.Fprintf(bw, "# total records=%s bytes=%s packets=%s excluded=%d\n",
		humanize.Comma(int64(s.TotalRecords)), humanize.IBytes(s.TotalBytes),
		humanize.Comma(int64(s.TotalPackets)), s.Excluded)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

func describe(fr *FlowRecord) string {
	var parts []string
	add := func(name, v string) {
		if v != "" {
			parts = append(parts, name+"="+v)
		}
	}
	num := func(name string, v uint64) {
		if v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", name, v))
		}
	}
	add("src", fr.SrcIP)
	add("dst", fr.DstIP)
	add("smac", fr.SrcMAC)
	add("dmac", fr.DstMAC)
	num("vlan", uint64(fr.VLAN))
	num("src_as", uint64(fr.SrcAS))
	num("dst_as", uint64(fr.DstAS))
	num("in", uint64(fr.InIface))
	num("out", uint64(fr.OutIface))
	num("sport", uint64(fr.SrcPort))
	num("dport", uint64(fr.DstPort))
	num("proto", uint64(fr.Protocol))
	num("tos", uint64(fr.Tos))
	add("flags", strings.Join(fr.TCPFlags, ","))
	add("mpls", fr.MPLS)
	add("fwd", fr.FwdStatus)
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

func (w *TextWriter) Close() error { return nil }
