package archive

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	holoerrors "github.com/endarthur/holocene-sub000/internal/errors"
	"github.com/endarthur/holocene-sub000/internal/logging"
)

// SSHArchiveBox drives an ArchiveBox instance on a remote host over ssh.
// Host is an ssh destination ("user@box"); Dir is the ArchiveBox data
// directory on that host.
type SSHArchiveBox struct {
	Host    string
	Dir     string
	WebBase string // base URL the remote serves snapshots under
	logger  logging.Logger
}

// NewSSHArchiveBox builds the remote. Returns nil when host is empty so the
// archiving service records the provider as unconfigured.
func NewSSHArchiveBox(host, dir, webBase string, logger logging.Logger) *SSHArchiveBox {
	if host == "" {
		return nil
	}
	if dir == "" {
		dir = "~/archivebox"
	}
	return &SSHArchiveBox{
		Host:    host,
		Dir:     dir,
		WebBase: strings.TrimRight(webBase, "/"),
		logger:  logging.OrNop(logger),
	}
}

var boxSnapshotIDRe = regexp.MustCompile(`archive/(\d+\.\d+)`)

// Archive submits url to the remote queue and parses the snapshot id out of
// the command output.
func (b *SSHArchiveBox) Archive(ctx context.Context, url string) (BoxResult, error) {
	out, err := b.run(ctx, fmt.Sprintf("cd %s && archivebox add %q", b.Dir, url))
	if err != nil {
		return BoxResult{}, err
	}

	result := BoxResult{Status: "queued"}
	if m := boxSnapshotIDRe.FindStringSubmatch(out); m != nil {
		result.SnapshotID = m[1]
		if b.WebBase != "" {
			result.ArchiveURL = fmt.Sprintf("%s/archive/%s/index.html", b.WebBase, m[1])
		}
	}
	b.logger.Info("ArchiveBox accepted %s (snapshot %s)", url, result.SnapshotID)
	return result, nil
}

// QueueStatus counts pending entries in the remote queue.
func (b *SSHArchiveBox) QueueStatus(ctx context.Context) (int, error) {
	out, err := b.run(ctx, fmt.Sprintf("cd %s && archivebox status --quiet 2>/dev/null | grep -c queued || true", b.Dir))
	if err != nil {
		return 0, err
	}
	depth, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unparseable queue status %q", strings.TrimSpace(out))
	}
	return depth, nil
}

func (b *SSHArchiveBox) run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "ssh",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		b.Host, command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return "", holoerrors.NewPermanent(err, "ssh not installed")
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("ssh %s: %s", b.Host, msg)
	}
	return string(out), nil
}
