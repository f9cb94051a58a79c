package repackager

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/pipeline"
)

// DefaultTailSize is the number of trailing lines kept for error reports.
const DefaultTailSize = 20

// waitDelay bounds how long output is drained after the tool exits or is killed.
const waitDelay = 5 * time.Second

// DefaultCommand starts the tool through the JVM.
var DefaultCommand = []string{"java", "-jar", "lspatch.jar"}

// Repackager injects a module into containers and re-signs them.
type Repackager interface {
	Repackage(ctx context.Context, inv *Invocation, sink pipeline.Sink) error
}

// Func adapts a function to Repackager.
type Func func(ctx context.Context, inv *Invocation, sink pipeline.Sink) error

// Repackage calls f.
func (f Func) Repackage(ctx context.Context, inv *Invocation, sink pipeline.Sink) error {
	return f(ctx, inv, sink)
}

// Process runs the tool as a child process.
type Process struct {
	command  []string
	dir      string
	env      []string
	tailSize int

	// outputLevel filters the tool lines written to the log; the sink always gets them.
	outputLevel    zapcore.Level
	hasOutputLevel bool
}

// Option configures a Process.
type Option func(*Process)

// WithDir sets the working directory of the tool.
func WithDir(dir string) Option {
	return func(p *Process) { p.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the tool environment.
func WithEnv(env ...string) Option {
	return func(p *Process) { p.env = append(p.env, env...) }
}

// WithTailSize sets how many trailing lines an Error keeps.
func WithTailSize(n int) Option {
	return func(p *Process) {
		if n > 0 {
			p.tailSize = n
		}
	}
}

// WithOutputLevel sets the minimum level of tool lines written to the log.
func WithOutputLevel(level zapcore.Level) Option {
	return func(p *Process) {
		p.outputLevel = level
		p.hasOutputLevel = true
	}
}

// NewProcess returns a Process starting command; an empty command uses DefaultCommand.
func NewProcess(command []string, opts ...Option) *Process {
	if len(command) == 0 {
		command = DefaultCommand
	}

	p := &Process{command: append([]string(nil), command...), tailSize: DefaultTailSize}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Command returns the command prefix the tool is started with.
func (p *Process) Command() []string {
	return append([]string(nil), p.command...)
}

// Repackage runs the tool and blocks until it exits or ctx is done.
func (p *Process) Repackage(ctx context.Context, inv *Invocation, sink pipeline.Sink) error {
	ctx = logger.WithName(ctx, "repackager")

	if err := inv.Validate(); err != nil {
		return &Error{ExitCode: -1, Err: err}
	}

	if sink == nil {
		sink = pipeline.Discard
	}

	commandLine := inv.CommandLine(p.command)
	logger.InfoKV(ctx, "Starting repackaging tool", "command", commandLine)
	sink("Running " + commandLine)

	//nolint:gosec // The command comes from local configuration.
	cmd := exec.CommandContext(ctx, p.command[0], append(p.command[1:], inv.Args()...)...)
	cmd.Dir = p.dir

	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}

	outputCtx := logger.WithName(ctx, "output")
	if p.hasOutputLevel {
		outputCtx = logger.WithMinLevel(outputCtx, p.outputLevel)
	}

	out := newForwarder(outputCtx, sink, p.tailSize)
	stdout := &lineWriter{forwarder: out, fallback: LevelInfo}
	stderr := &lineWriter{forwarder: out, fallback: LevelError}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	stdout.flush()
	stderr.flush()

	if err != nil {
		exitCode := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		logger.ErrorKV(ctx, "Repackaging tool failed", "exit_code", exitCode, "error", err)

		return &Error{ExitCode: exitCode, Tail: out.tail(), Err: err}
	}

	logger.Info(ctx, "Repackaging tool finished")

	return nil
}

// forwarder serializes lines from both output streams into the sink and the log.
type forwarder struct {
	ctx   context.Context //nolint:containedctx // Carries the logger for the stream goroutines.
	sink  pipeline.Sink
	size  int
	mu    sync.Mutex
	lines []string
}

func newForwarder(ctx context.Context, sink pipeline.Sink, size int) *forwarder {
	return &forwarder{ctx: ctx, sink: sink, size: size}
}

func (f *forwarder) forward(raw string, fallback Level) {
	if raw == "" {
		return
	}

	level, text := Classify(raw, fallback)
	line := level.String() + ": " + text

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lines = append(f.lines, line)
	if len(f.lines) > f.size {
		f.lines = f.lines[len(f.lines)-f.size:]
	}

	f.sink(line)

	switch level {
	case LevelDebug:
		logger.Debug(f.ctx, text)
	case LevelError:
		logger.Error(f.ctx, text)
	default:
		logger.Info(f.ctx, text)
	}
}

func (f *forwarder) tail() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.lines...)
}

// lineWriter splits one output stream into lines.
type lineWriter struct {
	forwarder *forwarder
	fallback  Level
	buf       []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}

		w.forwarder.forward(strings.TrimRight(string(w.buf[:i]), "\r"), w.fallback)
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.forwarder.forward(strings.TrimRight(string(w.buf), "\r"), w.fallback)
		w.buf = nil
	}
}
