//////////////////////////////////////////////////////////////////////////////
//
// Capture from an external process writing MJPEG to its stdout.
//
// Source specs:
//   "rpicam" or "rpicam:/path/to/rpicam-vid"  Raspberry Pi camera stack
//   "exec:<program> <args>..."                any MJPEG-emitting command
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/media"
)

const (
	// Amount of stderr output kept for diagnostics.
	stderrTail = 4096

	// How long a terminated process gets to exit before it is killed.
	killDelay = 2 * time.Second
)

type commandSource struct {
	argv []string
}

func (s *commandSource) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceStart, err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	// On cancellation terminate rather than kill, so the camera stack can
	// release the sensor. Orphaned grandchildren holding stderr open must not
	// block Wait forever.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceStart, errors.Wrapf(err, "start %s", s.argv[0]))
	}
	log.Info("Started %s (pid %d)", s.argv[0], cmd.Process.Pid)

	return &process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// A running capture process. Reads come from its stdout.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
}

func (p *process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Close terminates the process if it is still alive, reaps it, and logs any
// error output it produced.
func (p *process) Close() error {
	pid := p.cmd.Process.Pid

	// Ask nicely first. Signalling an exited process is harmless.
	p.cmd.Process.Signal(syscall.SIGTERM)

	// Wait must not run while a read is pending. Closing our end of the pipe
	// first makes a blocked ReadFrame return.
	p.stdout.Close()

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(killDelay):
		log.Warn("Process %d ignored SIGTERM, killing", pid)
		p.cmd.Process.Kill()
		err = <-done
	}

	if out := p.stderr.String(); out != "" {
		log.Warn("%s (pid %d) error output:\n%s", p.cmd.Args[0], pid, out)
	}
	log.Info("Process %d stopped: %v", pid, exitStatus(err))
	return nil
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// rpicamArgs builds an rpicam-vid command line that writes an endless MJPEG
// stream to stdout.
func rpicamArgs(binary string, opts Options) []string {
	argv := []string{binary, "-t", "0"}
	if opts.Width > 0 {
		argv = append(argv, "--width", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		argv = append(argv, "--height", strconv.Itoa(opts.Height))
	}
	if opts.FrameRate > 0 {
		argv = append(argv, "--framerate", strconv.Itoa(opts.FrameRate))
	}
	if opts.Quality > 0 {
		argv = append(argv, "--quality", strconv.Itoa(opts.Quality))
	}
	if opts.PostProcessFile != "" {
		argv = append(argv, "--post-process-file", opts.PostProcessFile)
	}
	return append(argv, "--codec", "mjpeg", "-o", "-")
}

func openRpicam(path string, opts Options) (Source, error) {
	binary := path
	if binary == "" {
		binary = "rpicam-vid"
	}
	argv := rpicamArgs(binary, opts)
	warnTransformIgnored("rpicam", opts)
	return FromStream(strings.Join(argv, " "), &commandSource{argv: argv}, opts.MaxFrameSize), nil
}

func openExec(path string, opts Options) (Source, error) {
	argv := strings.Fields(path)
	if len(argv) == 0 {
		return nil, errors.New("exec source needs a command")
	}
	warnTransformIgnored("exec", opts)
	return FromStream(path, &commandSource{argv: argv}, opts.MaxFrameSize), nil
}

// Stream sources publish the camera's own JPEG bytes and never decode them.
func warnTransformIgnored(tag string, opts Options) {
	if opts.Transform != nil {
		log.Warn("%s sources do not decode frames; overlay and detection are disabled", tag)
	}
}

func init() {
	RegisterSourceType("rpicam", openRpicam)
	RegisterSourceType("exec", openExec)
}
