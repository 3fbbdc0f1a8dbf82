// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/metrics"
)

// DefaultCommand is run for services without a configured command.
const DefaultCommand = "yarn start"

// maxLineLen caps a single captured line.
const maxLineLen = 1024 * 1024

// LineSink receives captured output. *logs.Sink implements it.
type LineSink interface {
	Register(serviceID, path string)
	Write(serviceID, line string, level logs.Level) logs.Entry
}

// Launcher spawns service processes.
type Launcher interface {
	Launch(svc catalog.Service) (Handle, error)
}

// Handle is a launched process.
type Handle interface {
	PID() int
	// Kill sends SIGKILL to the process group.
	Kill() error
	// Done is closed after the process has exited and its output is drained.
	Done() <-chan struct{}
	// ExitErr is the result of waiting on the process; valid after Done.
	ExitErr() error
}

// LauncherConfig configures a ProcessLauncher.
type LauncherConfig struct {
	DefaultCommand string
	Env            []string // appended to the supervisor's environment
}

// ProcessLauncher starts services as OS processes in their own session,
// with stdout and stderr piped into a LineSink.
type ProcessLauncher struct {
	cfg     LauncherConfig
	sink    LineSink
	metrics *metrics.Metrics
}

// NewProcessLauncher creates a launcher writing output to sink.
func NewProcessLauncher(cfg LauncherConfig, sink LineSink, m *metrics.Metrics) *ProcessLauncher {
	if cfg.DefaultCommand == "" {
		cfg.DefaultCommand = DefaultCommand
	}
	return &ProcessLauncher{cfg: cfg, sink: sink, metrics: m}
}

// Launch spawns svc's command with svc.Path as working directory. Spawn
// errors are returned synchronously and nothing is retried.
func (l *ProcessLauncher) Launch(svc catalog.Service) (Handle, error) {
	command := svc.Command
	if strings.TrimSpace(command) == "" {
		command = l.cfg.DefaultCommand
	}
	argv := SplitCommand(command)
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	info, err := os.Stat(svc.Path)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", svc.Path)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = svc.Path
	// A new session detaches the child from the supervisor's terminal and
	// process group; its pid doubles as the group id for Kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(), l.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	l.sink.Register(svc.ID, svc.LogPath())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", argv[0], err)
	}

	p := &process{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.captureOutput(svc.ID, stdout, "stdout")
	}()
	go func() {
		defer wg.Done()
		l.captureOutput(svc.ID, stderr, "stderr")
	}()
	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		if err != nil {
			l.sink.Write(svc.ID, fmt.Sprintf("Process exited: %v", err), logs.LevelInfo)
		} else {
			l.sink.Write(svc.ID, "Process exited cleanly", logs.LevelInfo)
		}
		close(p.done)
	}()

	return p, nil
}

// captureOutput forwards each newline-terminated line to the sink. A
// trailing fragment without newline is only emitted at end of stream.
func (l *ProcessLauncher) captureOutput(serviceID string, r io.Reader, stream string) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			line = truncateLine(line, maxLineLen)
			if stream == "stderr" {
				msg, level := logs.StderrMessage(line)
				l.sink.Write(serviceID, msg, level)
			} else {
				l.sink.Write(serviceID, line, logs.Classify(line))
			}
			l.metrics.LogLine(stream)
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				l.sink.Write(serviceID, fmt.Sprintf("Output read error: %v", err), logs.LevelError)
			}
			return
		}
	}
}

// truncateLine cuts line to at most max bytes without splitting a rune.
func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	i := max
	for i > 0 && !utf8.RuneStart(line[i]) {
		i--
	}
	return line[:i] + "... [truncated]"
}

type process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *process) PID() int { return p.pid }

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	// Negative pid signals the whole process group.
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}
