package writer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"Go2NetCache/internal/engine/cache"

	"go.uber.org/zap"
)

// Trigger runs an external command after a batch has been written. The
// command gets the batch description in its environment.
type Trigger struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewTrigger returns nil when path is empty.
func NewTrigger(path string, timeout time.Duration, logger *zap.Logger) *Trigger {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{path: path, timeout: timeout, logger: logger.With(zap.String("component", "trigger"))}
}

// Env returns the variables passed to the command for b.
func (t *Trigger) Env(b *cache.Batch) []string {
	return []string{
		"GO2NET_BATCH=" + strconv.FormatUint(b.Seq, 10),
		"GO2NET_WINDOW=" + strconv.FormatInt(b.Window().Unix(), 10),
		"GO2NET_WINDOWS=" + strconv.Itoa(len(b.Windows())),
		"GO2NET_CUTOFF=" + strconv.FormatInt(b.Cutoff.Unix(), 10),
		"GO2NET_RECORDS=" + strconv.Itoa(len(b.Records)),
		"GO2NET_EXCLUDED=" + strconv.Itoa(len(b.Errors)),
	}
}

// Run executes the command and waits for it, bounded by the timeout.
func (t *Trigger) Run(ctx context.Context, b *cache.Batch) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, t.path)
	cmd.Env = append(os.Environ(), t.Env(b)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("trigger '%s' failed: %w (output: %q)", t.path, err, truncateOutput(out))
	}
	t.logger.Debug("Trigger finished", zap.String("path", t.path), zap.Uint64("batch", b.Seq))
	return nil
}

func truncateOutput(out []byte) string {
	const max = 256
	if len(out) > max {
		return string(out[:max]) + "..."
	}
	return string(out)
}
