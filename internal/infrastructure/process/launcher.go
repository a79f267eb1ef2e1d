// Package process runs external commands to completion behind a single
// completion signal.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// EventKind is a terminal signal surfaced by a running command.
type EventKind int

const (
	// EventError means the command could not be started or waited on.
	EventError EventKind = iota
	// EventExit means the process was reaped.
	EventExit
	// EventClose means the process stdio streams were drained.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventExit:
		return "exit"
	case EventClose:
		return "close"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

type Event struct {
	Kind     EventKind
	ExitCode int
	Err      error
}

// Spec is a fully resolved command invocation.
type Spec struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdout io.Writer
}

// Spawner starts a command and reports terminal events through emit. emit may
// be called any number of times, from any goroutine.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec, emit func(Event))
}

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Options configures one launch. Env holds KEY=VALUE pairs added on top of PATH.
type Options struct {
	Dir    string
	Env    []string
	Stdout io.Writer
}

// Result is the outcome of a resolved launch. The exit code is informational.
type Result struct {
	ExitCode int
	Event    EventKind
}

type Launcher struct {
	spawner Spawner
	logger  Logger
}

func New(spawner Spawner, logger Logger) *Launcher {
	if spawner == nil {
		spawner = &ExecSpawner{Logger: logger}
	}
	return &Launcher{spawner: spawner, logger: logger}
}

// Launch runs argv and blocks until the first terminal event. Only a spawn
// failure is an error; any exit code resolves successfully.
func (l *Launcher) Launch(ctx context.Context, label string, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("%s: %w: empty command", label, domain.ErrSpawn)
	}

	spec := Spec{
		Argv:   argv,
		Dir:    opts.Dir,
		Env:    childEnv(opts.Env),
		Stdout: opts.Stdout,
	}

	l.logger.Debugf("[%s] launching %s in %s", label, argv[0], opts.Dir)

	done := newLatch()
	l.spawner.Spawn(ctx, spec, func(ev Event) {
		if ev.Kind == EventError {
			if done.reject(fmt.Errorf("%s: %w: %w", label, domain.ErrSpawn, ev.Err)) {
				l.logger.Errorf("[%s] errored: %v", label, ev.Err)
			}
			return
		}
		if done.resolve(Result{ExitCode: ev.ExitCode, Event: ev.Kind}) {
			l.logger.Debugf("[%s] %s with code %d", label, ev.Kind, ev.ExitCode)
		}
	})

	return done.wait()
}

func childEnv(extra []string) []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	for _, kv := range extra {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}
