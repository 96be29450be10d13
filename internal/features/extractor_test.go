package features

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
)

type fakeLoader struct {
	buf   *audio.Buffer
	err   error
	calls atomic.Int32
}

func (l *fakeLoader) Decode(context.Context, string) (*audio.Buffer, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.buf, nil
}

func testBuffer() *audio.Buffer {
	rate := 22050
	return &audio.Buffer{Samples: tone(4*rate, rate, 440, 0.5), SampleRate: rate, Channels: 1}
}

func TestNewRequiresDecoder(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("New without decoder = %v, want ErrNoDecoder", err)
	}
}

func TestCacheKey(t *testing.T) {
	k := CacheKey("/a/song.mp3", 100, 200)
	if len(k) != 16 {
		t.Errorf("key length = %d", len(k))
	}
	if k != CacheKey("/b/song.mp3", 100, 200) {
		t.Error("key should depend only on the base name")
	}
	if k == CacheKey("/a/song.mp3", 100, 201) {
		t.Error("key should depend on the boundaries")
	}
}

func TestExtractCachesOnce(t *testing.T) {
	loader := &fakeLoader{buf: testBuffer()}
	cache := NewMemoryCache()
	e, err := New(Config{Decoder: loader, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := e.Extract(ctx, e.Track("/music/song.wav"), 22050, 66150, 22050, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if first.Cached {
		t.Error("first extraction should not be cached")
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", cache.Len())
	}

	// A fresh track whose decode would fail proves the hit never reads audio.
	broken := audio.NewTrack("/music/song.wav", &fakeLoader{err: errors.New("unreadable")})
	second, err := e.Extract(ctx, broken, 22050, 66150, 22050, true)
	if err != nil {
		t.Fatalf("cached Extract: %v", err)
	}
	if !second.Cached {
		t.Error("second extraction should be a cache hit")
	}
	if second.Vector != first.Vector {
		t.Errorf("cached vector %+v differs from computed %+v", second.Vector, first.Vector)
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("decoded %d times, want 1", n)
	}
}

func TestExtractWithoutCache(t *testing.T) {
	cache := NewMemoryCache()
	e, _ := New(Config{Decoder: &fakeLoader{buf: testBuffer()}, Cache: cache})
	track := e.Track("song.wav")

	for i := 0; i < 2; i++ {
		res, err := e.Extract(context.Background(), track, 0, 44100, 22050, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Cached {
			t.Error("useCache=false must not read the cache")
		}
	}
	if cache.Len() != 0 {
		t.Error("useCache=false must not write the cache")
	}
}

func TestExtractDecodeError(t *testing.T) {
	e, _ := New(Config{Decoder: &fakeLoader{err: &audio.DecodeError{Path: "x", Err: errors.New("bad")}}})

	_, err := e.Extract(context.Background(), e.Track("x.mp3"), 0, 100, 44100, true)
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *audio.DecodeError, got %v", err)
	}
}

func TestExtractAll(t *testing.T) {
	loader := &fakeLoader{buf: testBuffer()}
	e, _ := New(Config{Decoder: loader, Workers: 3})
	track := e.Track("song.wav")

	spans := []Span{{0, 22050}, {22050, 66150}, {1000, 80000}, {5000, 6000}, {44100, 88200}}
	var calls []int
	results, err := e.ExtractAll(context.Background(), track, spans, 22050, true, func(done, total int) {
		if total != len(spans) {
			t.Errorf("total = %d", total)
		}
		calls = append(calls, done)
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(results) != len(spans) {
		t.Fatalf("results = %d", len(results))
	}
	for i, want := range []int{1, 2, 3, 4, 5} {
		if calls[i] != want {
			t.Fatalf("progress sequence %v", calls)
		}
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("decoded %d times for one track, want 1", n)
	}

	for i, sp := range spans {
		direct := Compute(loader.buf, sp.Start, sp.End)
		if results[i].Vector != direct.Vector {
			t.Errorf("span %d out of order or wrong: %+v vs %+v", i, results[i].Vector, direct.Vector)
		}
	}
}

func TestExtractAllCancelled(t *testing.T) {
	e, _ := New(Config{Decoder: &fakeLoader{buf: testBuffer()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExtractAll(ctx, e.Track("song.wav"), []Span{{0, 100}, {100, 200}}, 22050, false, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExtractAllDecodeErrorAborts(t *testing.T) {
	e, _ := New(Config{Decoder: &fakeLoader{err: &audio.DecodeError{Path: "x", Err: errors.New("bad")}}, Workers: 2})

	_, err := e.ExtractAll(context.Background(), e.Track("x.mp3"), []Span{{0, 100}, {100, 200}, {200, 300}}, 22050, false, nil)
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *audio.DecodeError, got %v", err)
	}
}
