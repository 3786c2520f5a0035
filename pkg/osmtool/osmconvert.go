// Package osmtool runs the external osmconvert binary. It is the only place
// that touches the binary extract format: statistics and cropping are both
// delegated to the tool as subprocesses.
package osmtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// Sentinel errors for tool invocation failures.
var (
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolExecutionFailed = errors.New("tool execution failed")
)

// Operation names used for spans and metrics.
const (
	OpStatistics = "statistics"
	OpCrop       = "crop"
)

const (
	tracerName = "geosplit/osmtool"

	// DefaultPath is the tool looked up on PATH when none is configured.
	DefaultPath = "osmconvert"

	// DefaultTimeout bounds a single invocation; osmconvert can hang on
	// corrupt input.
	DefaultTimeout = 30 * time.Minute

	// maxStderrInError caps how much captured stderr is copied into errors.
	maxStderrInError = 4096

	// waitDelay bounds how long output pipes are drained after the process
	// is killed.
	waitDelay = 5 * time.Second
)

// Tool is the external-tool boundary. Tests substitute a fake.
type Tool interface {
	// Statistics runs the statistics report for path.
	Statistics(ctx context.Context, path string) (Statistics, error)
	// Crop materializes box from input into output.
	Crop(ctx context.Context, input string, box geo.BoundingBox, output string) error
}

// ToolError describes a failed invocation. It matches both its sentinel kind
// and the underlying cause with errors.Is.
type ToolError struct {
	Kind   error
	Cause  error
	Tool   string
	Args   []string
	Stderr string
}

// Error implements error.
func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Tool, strings.Join(e.Args, " "), e.Cause)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

// Unwrap exposes the sentinel kind and the cause.
func (e *ToolError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// ObserveFunc receives the outcome of every invocation.
type ObserveFunc func(ctx context.Context, op string, elapsed time.Duration, err error)

// Options configures an Osmconvert runner.
type Options struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Observe ObserveFunc
}

// Osmconvert invokes the osmconvert command-line tool.
type Osmconvert struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	observe ObserveFunc
}

// New creates a runner. Zero-valued options fall back to defaults.
func New(opts Options) *Osmconvert {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}

	tr := opts.Tracer
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}

	return &Osmconvert{
		path:    path,
		timeout: timeout,
		logger:  lg,
		tracer:  tr,
		observe: opts.Observe,
	}
}

// Path returns the configured tool path.
func (o *Osmconvert) Path() string { return o.path }

// Statistics runs `<tool> <file> --out-statistics` and parses the report.
func (o *Osmconvert) Statistics(ctx context.Context, path string) (Statistics, error) {
	stdout, err := o.run(ctx, OpStatistics, path, "--out-statistics")
	if err != nil {
		return nil, err
	}

	return ParseStatistics(stdout), nil
}

// Crop runs `<tool> <input> -b=<lonMin>,<latMin>,<lonMax>,<latMax> -o=<output>`.
func (o *Osmconvert) Crop(ctx context.Context, input string, box geo.BoundingBox, output string) error {
	_, err := o.run(ctx, OpCrop, input, "-b="+box.String(), "-o="+output)

	return err
}

func (o *Osmconvert) run(ctx context.Context, op string, args ...string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "osmtool."+op,
		trace.WithAttributes(
			attribute.String("tool.path", o.path),
			attribute.String("tool.op", op),
		),
	)
	defer span.End()

	start := time.Now()

	stdout, err := o.exec(ctx, args)

	elapsed := time.Since(start)

	if o.observe != nil {
		o.observe(ctx, op, elapsed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		o.logger.ErrorContext(ctx, "tool invocation failed",
			"op", op, "args", args, "elapsed", elapsed, "error", err)

		return "", err
	}

	o.logger.DebugContext(ctx, "tool invocation finished", "op", op, "args", args, "elapsed", elapsed)

	return stdout, nil
}

func (o *Osmconvert) exec(ctx context.Context, args []string) (string, error) {
	resolved, lookErr := exec.LookPath(o.path)
	if lookErr != nil {
		return "", &ToolError{Kind: ErrToolNotFound, Cause: lookErr, Tool: o.path, Args: args}
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, resolved, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if runErr == nil {
		return stdout.String(), nil
	}

	if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
		return "", &ToolError{Kind: ErrToolNotFound, Cause: runErr, Tool: o.path, Args: args}
	}

	cause := runErr
	if ctxErr := runCtx.Err(); ctxErr != nil {
		cause = fmt.Errorf("%w: %w", ctxErr, runErr)
	}

	return "", &ToolError{
		Kind:   ErrToolExecutionFailed,
		Cause:  cause,
		Tool:   o.path,
		Args:   args,
		Stderr: truncate(strings.TrimSpace(stderr.String()), maxStderrInError),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}
