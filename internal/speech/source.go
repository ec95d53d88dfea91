package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandSource records audio by running an external recorder (for example
// `arecord -q -f S16_LE -r 16000 -d 5 -t wav -`) and reading its stdout.
type CommandSource struct {
	Command []string
}

func (s CommandSource) Capture(ctx context.Context) ([]byte, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("no record command configured")
	}
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", s.Command[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// FileSource replays a recording from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Capture(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}
