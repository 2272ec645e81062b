package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	holoerrors "github.com/endarthur/holocene-sub000/internal/errors"
	"github.com/endarthur/holocene-sub000/internal/logging"
)

// ExecSnapshotter captures pages by shelling out: monolith for single-file
// HTML, wget for WARC.
type ExecSnapshotter struct {
	MonolithBin string
	WgetBin     string
	logger      logging.Logger
}

// NewExecSnapshotter builds a snapshotter around the monolith and wget
// binaries, defaulting to whatever is on PATH.
func NewExecSnapshotter(logger logging.Logger) *ExecSnapshotter {
	return &ExecSnapshotter{
		MonolithBin: "monolith",
		WgetBin:     "wget",
		logger:      logging.OrNop(logger),
	}
}

// Snapshot writes a self-contained capture of url to destPath and returns the
// file size. A missing capture binary is a permanent error; capture failures
// are left transient for the retry ladder.
func (e *ExecSnapshotter) Snapshot(ctx context.Context, url, format, destPath string) (int64, error) {
	var cmd *exec.Cmd
	switch format {
	case FormatMonolith:
		cmd = exec.CommandContext(ctx, e.MonolithBin, "--no-video", "--silent", "-o", destPath, url)
	case FormatWARC:
		// wget appends .warc.gz itself, so hand it the stem.
		stem := strings.TrimSuffix(destPath, ".warc.gz")
		cmd = exec.CommandContext(ctx, e.WgetBin,
			"--quiet", "--delete-after", "--no-directories",
			"--warc-file="+stem, url)
	default:
		return 0, holoerrors.NewPermanent(nil, fmt.Sprintf("unknown snapshot format %q", format))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return 0, holoerrors.NewPermanent(err, fmt.Sprintf("%s not installed", cmd.Path))
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		e.logger.Warn("Snapshot command failed for %s: %s", url, msg)
		return 0, fmt.Errorf("snapshot %s: %s", format, msg)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("snapshot completed but output missing: %w", err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("snapshot produced an empty file")
	}
	return info.Size(), nil
}
