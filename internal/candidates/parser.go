// Package candidates produces loop candidates for a track by running the
// external loop finder and parsing its text export.
package candidates

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Candidate is one loop proposal. Confidence is the finder's own score in
// [0, 1].
type Candidate struct {
	Start      int64
	End        int64
	Confidence float64
}

// Parsed is the result of reading an export. Skipped counts lines that
// were not blank but could not be read as a candidate.
type Parsed struct {
	Candidates []Candidate
	Skipped    int
}

const minFields = 5

// Parse reads one candidate per line: at least five whitespace separated
// fields, start sample first, end sample second and confidence fifth.
func Parse(r io.Reader) (Parsed, error) {
	var out Parsed
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c, ok := parseLine(line)
		if !ok {
			out.Skipped++
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read candidates: %w", err)
	}
	return out, nil
}

// ParseFile parses the export at path.
func ParseFile(path string) (Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("open candidates: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func parseLine(line string) (Candidate, bool) {
	p := strings.Fields(line)
	if len(p) < minFields {
		return Candidate{}, false
	}
	start, err := strconv.ParseInt(p[0], 10, 64)
	if err != nil || start < 0 {
		return Candidate{}, false
	}
	end, err := strconv.ParseInt(p[1], 10, 64)
	if err != nil || end <= start {
		return Candidate{}, false
	}
	conf, err := strconv.ParseFloat(p[4], 64)
	if err != nil || !(conf >= 0 && conf <= 1) {
		return Candidate{}, false
	}
	return Candidate{Start: start, End: end, Confidence: conf}, true
}
