package audio

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"sync"
)

// Fingerprint identifies a track by its file name, not its content:
// the first 16 hex characters of the MD5 of the base name.
func Fingerprint(path string) string {
	sum := md5.Sum([]byte(filepath.Base(path)))
	return hex.EncodeToString(sum[:])[:16]
}

// Track is a lazily decoded audio file. Decoding happens at most once per
// track; resampled views are memoized per rate. Safe for concurrent use.
type Track struct {
	Path string

	loader Loader

	mu     sync.Mutex
	native *Buffer
	rates  map[int]*Buffer
	loads  int
}

// NewTrack returns a Track that decodes path through loader on first use.
func NewTrack(path string, loader Loader) *Track {
	return &Track{Path: path, loader: loader, rates: make(map[int]*Buffer)}
}

// NewTrackFromBuffer wraps an already decoded buffer.
func NewTrackFromBuffer(path string, buf *Buffer) *Track {
	return &Track{
		Path:   path,
		native: buf,
		rates:  map[int]*Buffer{buf.SampleRate: buf},
	}
}

// Name is the base file name used for fingerprints and cache keys.
func (t *Track) Name() string {
	return filepath.Base(t.Path)
}

// Fingerprint is Fingerprint(t.Path).
func (t *Track) Fingerprint() string {
	return Fingerprint(t.Path)
}

// Buffer returns the decoded signal at rate, decoding and resampling on
// first use. rate <= 0 returns the native rate. The returned buffer is
// shared and must be treated as read-only.
func (t *Track) Buffer(ctx context.Context, rate int) (*Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.native == nil {
		if t.loader == nil {
			return nil, &DecodeError{Path: t.Path, Err: ErrNoBackend}
		}
		t.loads++
		buf, err := t.loader.Decode(ctx, t.Path)
		if err != nil {
			return nil, err
		}
		t.native = buf
		t.rates[buf.SampleRate] = buf
	}

	if rate <= 0 {
		return t.native, nil
	}
	if buf, ok := t.rates[rate]; ok {
		return buf, nil
	}

	buf, err := Resample(t.native, rate)
	if err != nil {
		return nil, &DecodeError{Path: t.Path, Err: err}
	}
	t.rates[rate] = buf
	return buf, nil
}

// Loads reports how many times the underlying file was decoded.
func (t *Track) Loads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loads
}
