package gtp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tengen/board"
)

// Display feeds moves to an external GTP board viewer running as a
// subprocess.
type Display struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewDisplay starts the viewer command and clears its board.
func NewDisplay(command string) (*Display, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.New("empty display command")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "display stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "display stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting display %q", command)
	}

	d := &Display{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	if err := d.Send("clear_board"); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Play shows a stone on the viewer.
func (d *Display) Play(pos board.Position, color board.Color) error {
	c := "w"
	if color == board.Black {
		c = "b"
	}
	p := pos
	return d.Send(fmt.Sprintf("play %s %s", FormatVertex(&p, board.ModelSize, board.ModelSize), c))
}

// Send writes one command and drains the response up to the blank line.
func (d *Display) Send(message string) error {
	if _, err := io.WriteString(d.stdin, message+"\n"); err != nil {
		return errors.Wrap(err, "writing to display")
	}
	klog.V(2).Infof("display: send=%s", message)

	for {
		line, err := d.stdout.ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "reading from display")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}
		klog.V(2).Infof("display: recv=%s", line)
	}
}

// Close terminates the viewer.
func (d *Display) Close() error {
	_ = d.stdin.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	return d.cmd.Wait()
}

// snapshot writes the position as a numbered PNG into dir.
func snapshot(dir string, move int, b *board.Board) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		klog.Errorf("snapshot dir: %v", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("move_%04d.png", move))
	f, err := os.Create(path)
	if err != nil {
		klog.Errorf("snapshot: %v", err)
		return
	}
	defer f.Close()
	if err := b.RenderPNG(f); err != nil {
		klog.Errorf("snapshot render: %v", err)
	}
}
