package randomness

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Collector invokes the configured external command and validates its
// output, per spec.md §6: exactly 64 bytes on stdout, exit status zero.
type Collector struct {
	command string
	buf     *Buffer
	log     log.Logger
}

// NewCollector returns a Collector that runs command (via "sh -c") and
// stores its output in buf.
func NewCollector(command string, buf *Buffer, logger log.Logger) *Collector {
	return &Collector{command: command, buf: buf, log: logger}
}

// Refill runs the collector command once with the given timeout and, on
// success, writes the resulting blob into the buffer.
func (c *Collector) Refill(ctx context.Context, timeout time.Duration) error {
	blob, err := c.run(ctx, timeout)
	if err != nil {
		return err
	}
	if err := c.buf.Write(blob); err != nil {
		return beaconerr.Wrap(err, beaconerr.KindRandomnessFailure)
	}
	return nil
}

func (c *Collector) run(ctx context.Context, timeout time.Duration) (blob [blobLen]byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		c.log.Warn("randomness collector command failed", "err", runErr, "stderr", strings.TrimSpace(stderr.String()))
		return blob, beaconerr.Wrap(fmt.Errorf("randomness: collector command failed: %w", runErr), beaconerr.KindRandomnessFailure)
	}
	out := stdout.Bytes()
	if len(out) != blobLen {
		return blob, beaconerr.Newf(beaconerr.KindRandomnessFailure, "randomness: collector produced %d bytes, want %d", len(out), blobLen)
	}
	copy(blob[:], out)
	return blob, nil
}
