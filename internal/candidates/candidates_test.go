package candidates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"264600 1323000 0.5 0.1 0.93",
		"",
		"   ",
		"100 200 x y 0.50 extra fields",
		"bad line",
		"1 2 3 4",
		"abc 200 0 0 0.5",
		"500 400 0 0 0.5",
		"100 200 0 0 1.5",
		"100 200 0 0 NaN",
		"0 44100 0 0 0",
	}, "\n")

	got, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Candidate{
		{Start: 264600, End: 1323000, Confidence: 0.93},
		{Start: 100, End: 200, Confidence: 0.5},
		{Start: 0, End: 44100, Confidence: 0},
	}
	if len(got.Candidates) != len(want) {
		t.Fatalf("candidates = %+v", got.Candidates)
	}
	for i := range want {
		if got.Candidates[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, got.Candidates[i], want[i])
		}
	}
	if got.Skipped != 6 {
		t.Errorf("skipped = %d, want 6", got.Skipped)
	}
}

func TestParseFileMissing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error")
	}
}

type fakeExec struct {
	calls   int
	args    []string
	content string
	err     error
}

func (f *fakeExec) Run(ctx context.Context, binary string, args []string) error {
	f.calls++
	f.args = args
	if f.err != nil {
		return f.err
	}
	var track, out string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--path":
			track = args[i+1]
		case "--output-dir":
			out = args[i+1]
		}
	}
	return os.WriteFile(filepath.Join(out, filepath.Base(track)+".loops.txt"), []byte(f.content), 0o644)
}

func newRunner(t *testing.T, ex Executor) (*Runner, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	r, err := NewRunner("pymusiclooper", dir, 5, time.Minute, WithExecutor(ex))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, dir
}

func TestRunnerRunsAndCaches(t *testing.T) {
	ex := &fakeExec{content: "0 44100 0 0 0.8\n100 88200 0 0 0.6\n"}
	r, dir := newRunner(t, ex)
	track := "/music/song.wav"

	res, err := r.Find(context.Background(), track, false)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Cached || len(res.Candidates) != 2 {
		t.Fatalf("res = %+v", res)
	}
	wantArgs := []string{"export-points", "--path", track, "--alt-export-top", "5", "--export-to", "txt", "--output-dir"}
	if len(ex.args) != len(wantArgs)+1 || strings.Join(ex.args[:len(wantArgs)], " ") != strings.Join(wantArgs, " ") {
		t.Fatalf("args = %v", ex.args)
	}
	if filepath.Dir(ex.args[len(wantArgs)]) != dir {
		t.Fatalf("output dir %s not staged under %s", ex.args[len(wantArgs)], dir)
	}
	if res.File != filepath.Join(dir, "song.wav.loops.txt") {
		t.Fatalf("file = %s", res.File)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Fatalf("staging dir left behind: %v", entries)
	}

	res, err = r.Find(context.Background(), track, false)
	if err != nil {
		t.Fatalf("Find again: %v", err)
	}
	if !res.Cached || ex.calls != 1 {
		t.Fatalf("cached=%v calls=%d", res.Cached, ex.calls)
	}
}

func TestRunnerBruteForceKeepsSeparateExport(t *testing.T) {
	ex := &fakeExec{content: "0 44100 0 0 0.8\n"}
	r, _ := newRunner(t, ex)
	track := "/music/song.wav"

	if _, err := r.Find(context.Background(), track, false); err != nil {
		t.Fatal(err)
	}

	ex.content = "10 20 0 0 0.9\n30 40 0 0 0.7\n"
	res, err := r.Find(context.Background(), track, true)
	if err != nil {
		t.Fatalf("brute Find: %v", err)
	}
	if ex.calls != 2 || res.Cached {
		t.Fatalf("calls=%d cached=%v", ex.calls, res.Cached)
	}
	if !strings.HasSuffix(res.File, "_brute.txt") || len(res.Candidates) != 2 {
		t.Fatalf("res = %+v", res)
	}
	if ex.args[len(ex.args)-1] != "--brute-force" {
		t.Fatalf("args = %v", ex.args)
	}

	normal, err := r.Find(context.Background(), track, false)
	if err != nil {
		t.Fatal(err)
	}
	if !normal.Cached || len(normal.Candidates) != 1 || strings.HasSuffix(normal.File, "_brute.txt") {
		t.Fatalf("normal = %+v", normal)
	}

	brute, err := r.Find(context.Background(), track, true)
	if err != nil {
		t.Fatal(err)
	}
	if !brute.Cached || len(brute.Candidates) != 2 || ex.calls != 2 {
		t.Fatalf("brute = %+v calls=%d", brute, ex.calls)
	}
}

func TestRunnerCachedIgnoresOtherTracks(t *testing.T) {
	r, dir := newRunner(t, &fakeExec{})
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "other.wav.txt"), []byte("0 1 0 0 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := r.Cached("/x/song.wav", false)
	if err != nil || got != "" {
		t.Fatalf("Cached = %q, %v", got, err)
	}
}

func TestRunnerExecError(t *testing.T) {
	boom := errors.New("exit status 1")
	r, _ := newRunner(t, &fakeExec{err: boom})
	if _, err := r.Find(context.Background(), "/x/song.wav", false); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunnerNoOutput(t *testing.T) {
	r, _ := newRunner(t, noopExec{})
	if _, err := r.Find(context.Background(), "/x/song.wav", false); err == nil {
		t.Fatal("expected error when the finder writes nothing")
	}
}

type noopExec struct{}

func (noopExec) Run(context.Context, string, []string) error { return nil }

func TestNewRunnerValidates(t *testing.T) {
	if _, err := NewRunner(" ", "out", 5, 0); err == nil {
		t.Fatal("empty binary accepted")
	}
	if _, err := NewRunner("pymusiclooper", "", 5, 0); err == nil {
		t.Fatal("empty output dir accepted")
	}
}
