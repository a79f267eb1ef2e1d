package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
)

// ExecSpawner runs commands with os/exec. Stderr, and stdout when it is not
// redirected, are streamed to the logger line by line.
type ExecSpawner struct {
	Logger Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec, emit func(Event)) {
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	label := filepath.Base(spec.Argv[0])
	var writers []*io.PipeWriter
	drained := make(chan struct{}, 2)

	stderrR, stderrW := io.Pipe()
	cmd.Stderr = stderrW
	writers = append(writers, stderrW)
	go s.drain(label, stderrR, drained)

	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	} else {
		stdoutR, stdoutW := io.Pipe()
		cmd.Stdout = stdoutW
		writers = append(writers, stdoutW)
		go s.drain(label, stdoutR, drained)
	}

	closeWriters := func() {
		for _, w := range writers {
			w.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		closeWriters()
		emit(Event{Kind: EventError, Err: err})
		return
	}

	go func() {
		err := cmd.Wait()
		closeWriters()

		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				emit(Event{Kind: EventError, Err: err})
				return
			}
			code = exitErr.ExitCode()
		}
		emit(Event{Kind: EventExit, ExitCode: code})

		for range writers {
			<-drained
		}
		emit(Event{Kind: EventClose, ExitCode: code})
	}()
}

func (s *ExecSpawner) drain(label string, r io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if s.Logger != nil {
			s.Logger.Debugf("[%s] %s", label, scanner.Text())
		}
	}
	// keep the pipe flowing if the scanner gave up on an oversized line
	_, _ = io.Copy(io.Discard, r)
}
