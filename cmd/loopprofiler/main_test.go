package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
)

func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	base := []string{
		"--config", filepath.Join(dataDir, "missing.toml"),
		"--data-dir", dataDir,
		"--log-level", "silent",
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeTone(t *testing.T, dir string) string {
	t.Helper()
	const rate = 22050
	samples := make([]float64, rate*3)
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*330*float64(i)/rate)
	}
	path := filepath.Join(dir, "tone.wav")
	if err := audio.WriteWav(path, samples, rate); err != nil {
		t.Fatalf("WriteWav: %v", err)
	}
	return path
}

func TestFeedbackLifecycle(t *testing.T) {
	dir := t.TempDir()
	track := writeTone(t, dir)

	out, err := runCLI(t, dir, "feedback", "add", track, "--start", "0", "--end", "22050", "--rating", "good", "--score", "0.9")
	if err != nil {
		t.Fatalf("feedback add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Recorded feedback #1") {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = runCLI(t, dir, "feedback", "list")
	if err != nil {
		t.Fatalf("feedback list: %v", err)
	}
	if !strings.Contains(out, "tone.wav") || !strings.Contains(out, "good") {
		t.Fatalf("list output: %s", out)
	}

	out, err = runCLI(t, dir, "feedback", "show", "1")
	if err != nil {
		t.Fatalf("feedback show: %v", err)
	}
	if !strings.Contains(out, `"sample_rate": 22050`) {
		t.Fatalf("show output: %s", out)
	}

	out, err = runCLI(t, dir, "feedback", "export", "1", "--set", "format=wav")
	if err != nil || !strings.Contains(out, "exported 1 time") {
		t.Fatalf("feedback export: %v\n%s", err, out)
	}

	out, err = runCLI(t, dir, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "untrained (1/10 samples)") {
		t.Fatalf("stats output: %s", out)
	}

	out, err = runCLI(t, dir, "train")
	if err != nil || !strings.Contains(out, "Not enough feedback") {
		t.Fatalf("train: %v\n%s", err, out)
	}

	if _, err := runCLI(t, dir, "feedback", "delete", "1"); err != nil {
		t.Fatalf("feedback delete: %v", err)
	}
	if _, err := runCLI(t, dir, "feedback", "delete", "1"); err == nil {
		t.Fatal("second delete succeeded")
	}
	out, _ = runCLI(t, dir, "feedback", "list")
	if !strings.Contains(out, "No feedback recorded") {
		t.Fatalf("list after delete: %s", out)
	}
}

func TestFeedbackAddRejectsBadRating(t *testing.T) {
	dir := t.TempDir()
	track := writeTone(t, dir)
	if _, err := runCLI(t, dir, "feedback", "add", track, "--end", "100", "--rating", "meh"); err == nil {
		t.Fatal("accepted rating meh")
	}
}

func TestInspectRejectsEmptyLoop(t *testing.T) {
	dir := t.TempDir()
	track := writeTone(t, dir)
	if _, err := runCLI(t, dir, "inspect", track, "--start", "500", "--end", "500"); err == nil {
		t.Fatal("inspect accepted an empty loop")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "conf", "loopprofiler.toml")

	if out, err := runCLI(t, dir, "config", "init", "--path", target); err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := runCLI(t, dir, "config", "init", "--path", target); err == nil {
		t.Fatal("init overwrote without --overwrite")
	}

	out, err := runCLI(t, dir, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[candidates]") || !strings.Contains(out, "pymusiclooper") {
		t.Fatalf("show output: %s", out)
	}
}

func TestParseRating(t *testing.T) {
	cases := map[string]int{"good": 1, "1": 1, "UP": 1, "bad": 0, "0": 0, "no": 0}
	for in, want := range cases {
		got, err := parseRating(in)
		if err != nil || got != want {
			t.Errorf("parseRating(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := parseRating("maybe"); err == nil {
		t.Error("parseRating accepted maybe")
	}
}
