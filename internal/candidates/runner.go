package candidates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

const bruteSuffix = "_brute.txt"

// Executor runs the loop finder. Tests substitute a fake.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) error
}

type Option func(*Runner)

// WithExecutor injects a custom executor.
func WithExecutor(e Executor) Option {
	return func(r *Runner) {
		if e != nil {
			r.exec = e
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l.With("candidates")
		}
	}
}

// Runner drives the external loop finder and caches its exports in an
// output directory, one text file per track and mode.
type Runner struct {
	binary  string
	top     int
	timeout time.Duration
	outDir  string
	exec    Executor
	log     *logger.Logger
}

func NewRunner(binary, outDir string, top int, timeout time.Duration, opts ...Option) (*Runner, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("loop finder binary required")
	}
	if outDir == "" {
		return nil, errors.New("output directory required")
	}
	if top < 1 {
		top = 1
	}
	r := &Runner{
		binary:  binary,
		top:     top,
		timeout: timeout,
		outDir:  outDir,
		exec:    commandExecutor{},
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Result is a parsed export and where it came from.
type Result struct {
	Parsed
	File   string
	Cached bool
}

// Find returns the candidates for trackPath. An existing export for the
// same track and mode is reused; otherwise the finder is run.
func (r *Runner) Find(ctx context.Context, trackPath string, brute bool) (Result, error) {
	if existing, err := r.Cached(trackPath, brute); err != nil {
		return Result{}, err
	} else if existing != "" {
		r.log.Fields(logger.DEBUG, "reusing export", "file", existing)
		return r.load(existing, true)
	}

	if err := utils.MakeDir(r.outDir); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// The finder writes into a staging directory; its export is then moved
	// into outDir under the mode's name.
	stage, err := os.MkdirTemp(r.outDir, ".run-")
	if err != nil {
		return Result{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	args := []string{
		"export-points",
		"--path", trackPath,
		"--alt-export-top", strconv.Itoa(r.top),
		"--export-to", "txt",
		"--output-dir", stage,
	}
	if brute {
		args = append(args, "--brute-force")
	}
	r.log.Fields(logger.INFO, "running loop finder", "track", filepath.Base(trackPath), "brute", brute)
	if err := r.exec.Run(runCtx, r.binary, args); err != nil {
		return Result{}, fmt.Errorf("%s export-points: %w", r.binary, err)
	}

	produced, err := newest(stage, trackPath, func(string) bool { return true })
	if err != nil {
		return Result{}, err
	}
	if produced == "" {
		return Result{}, fmt.Errorf("%s produced no export for %s", r.binary, filepath.Base(trackPath))
	}
	name := filepath.Base(produced)
	if brute && !strings.HasSuffix(name, bruteSuffix) {
		name = strings.TrimSuffix(name, ".txt") + bruteSuffix
	}
	file := filepath.Join(r.outDir, name)
	if err := utils.MoveFile(produced, file); err != nil {
		return Result{}, fmt.Errorf("store export: %w", err)
	}
	return r.load(file, false)
}

// Cached returns the newest existing export for trackPath in the given
// mode, or "" when there is none.
func (r *Runner) Cached(trackPath string, brute bool) (string, error) {
	keep := func(name string) bool { return strings.HasSuffix(name, bruteSuffix) == brute }
	return newest(r.outDir, trackPath, keep)
}

func (r *Runner) load(file string, cached bool) (Result, error) {
	parsed, err := ParseFile(file)
	if err != nil {
		return Result{}, err
	}
	if parsed.Skipped > 0 {
		r.log.Fields(logger.WARN, "skipped malformed candidate lines", "file", filepath.Base(file), "count", parsed.Skipped)
	}
	return Result{Parsed: parsed, File: file, Cached: cached}, nil
}

// newest finds the most recently modified <base>*.txt in dir accepted by
// keep.
func newest(dir, trackPath string, keep func(string) bool) (string, error) {
	pattern := filepath.Join(dir, globEscape(filepath.Base(trackPath))+"*.txt")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("list exports: %w", err)
	}

	var best string
	var bestTime time.Time
	for _, m := range matches {
		if !keep(filepath.Base(m)) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestTime) {
			best, bestTime = m, mod
		}
	}
	return best, nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
