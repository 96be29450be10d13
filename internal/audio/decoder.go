package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

// ErrNoBackend is returned by NewDecoder when a required decode backend
// cannot be found. It is a construction-time failure.
var ErrNoBackend = errors.New("audio decode backend unavailable")

// DecodeError reports that a track could not be decoded. It is kept distinct
// from feature computation failures so callers can tell the two apart.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Loader decodes a file into a mono buffer at its native sample rate.
type Loader interface {
	Decode(ctx context.Context, path string) (*Buffer, error)
}

type DecoderConfig struct {
	FFmpeg  string
	FFprobe string
	// RequireFFmpeg makes NewDecoder fail when ffmpeg is missing. Without it
	// the decoder still reads PCM WAV files natively.
	RequireFFmpeg bool
	TempDir       string
	Timeout       time.Duration
	Logger        *logger.Logger
}

// Decoder reads PCM WAV natively and hands every other format to ffmpeg.
type Decoder struct {
	ffmpeg  string // resolved path, "" when unavailable
	ffprobe string
	tempDir string
	timeout time.Duration
	log     *logger.Logger
}

// NewDecoder resolves the external tools once. A missing ffmpeg is fatal
// only when cfg.RequireFFmpeg is set.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "loopprofiler")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	d := &Decoder{
		tempDir: cfg.TempDir,
		timeout: cfg.Timeout,
		log:     cfg.Logger.With("audio"),
	}

	if p, err := exec.LookPath(cfg.FFmpeg); err == nil {
		d.ffmpeg = p
	} else if cfg.RequireFFmpeg {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrNoBackend, cfg.FFmpeg, err)
	} else {
		d.log.Warnf("ffmpeg not found (%v); only PCM WAV input can be decoded", err)
	}
	if p, err := exec.LookPath(cfg.FFprobe); err == nil {
		d.ffprobe = p
	}

	return d, nil
}

// CanConvert reports whether non-WAV input can be decoded.
func (d *Decoder) CanConvert() bool {
	return d.ffmpeg != ""
}

// Decode returns the mono buffer for path at its native sample rate.
// All failures are returned as *DecodeError.
func (d *Decoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	buf, err := d.decode(ctx, path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return buf, nil
}

func (d *Decoder) decode(ctx context.Context, path string) (*Buffer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		buf, err := ReadWav(path)
		if err == nil {
			return buf, nil
		}
		if !d.CanConvert() {
			return nil, err
		}
		d.log.Debugf("native WAV read failed for %s (%v), retrying through ffmpeg", path, err)
	}

	if !d.CanConvert() {
		return nil, fmt.Errorf("%w: cannot decode %s without ffmpeg", ErrNoBackend, filepath.Ext(path))
	}

	// Keep the source rate so candidate sample positions stay valid.
	if err := utils.MakeDir(d.tempDir); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(d.tempDir, "decode-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	wavPath, err := ConvertToMonoWAV(ctx, path, workDir, ConvertWAVConfig{
		FFmpeg:  d.ffmpeg,
		Timeout: d.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}

	buf, err := ReadWav(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted WAV: %w", err)
	}

	// ffmpeg mixed down already; report the source channel count when known.
	if meta, err := d.Metadata(ctx, path); err == nil && meta.Channels > 0 {
		buf.Channels = meta.Channels
	}
	return buf, nil
}

// Metadata describes path using ffprobe when available, falling back to a
// native WAV read.
func (d *Decoder) Metadata(ctx context.Context, path string) (*Metadata, error) {
	if d.ffprobe != "" {
		meta, err := ProbeMetadata(ctx, d.ffprobe, path)
		if err == nil {
			return meta, nil
		}
		d.log.Debugf("ffprobe failed for %s: %v", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		buf, err := ReadWav(path)
		if err != nil {
			return nil, err
		}
		return metadataFromBuffer(path, buf), nil
	}
	return nil, fmt.Errorf("no metadata source for %s", path)
}

// Resample converts buf to rate. The input buffer is not modified; a
// buffer already at rate is returned as is.
func Resample(buf *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if buf.SampleRate == rate {
		return buf, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(buf.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := r.Process(buf.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	return &Buffer{Samples: out, SampleRate: rate, Channels: buf.Channels}, nil
}
