package audio

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Metadata describes the source file of a track.
type Metadata struct {
	Filename    string
	DurationMs  int64
	SampleRate  int
	Channels    int
	BitrateKbps int // 0 when unknown
	Format      string
}

type ffprobeOutput struct {
	Format struct {
		Filename string `json:"filename"`
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Format   string `json:"format_name"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    string `json:"bit_rate"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// ProbeMetadata runs ffprobe on path.
func ProbeMetadata(ctx context.Context, ffprobe, path string) (*Metadata, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return parseProbe(path, out)
}

func parseProbe(path string, out []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, err
	}

	stream := probe.firstAudioStream()
	if stream == nil {
		return nil, errors.New("no audio stream found")
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(stream.SampleRate)

	bitrate := stream.BitRate
	if bitrate == "" {
		bitrate = probe.Format.BitRate
	}
	bps, _ := strconv.Atoi(bitrate)

	return &Metadata{
		Filename:    filepath.Base(path),
		DurationMs:  int64(duration * 1000),
		SampleRate:  sampleRate,
		Channels:    stream.Channels,
		BitrateKbps: bps / 1000,
		Format:      probe.Format.Format,
	}, nil
}

// metadataFromBuffer builds metadata for a file decoded without ffprobe.
func metadataFromBuffer(path string, buf *Buffer) *Metadata {
	return &Metadata{
		Filename:   filepath.Base(path),
		DurationMs: buf.DurationMs(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Format:     "wav",
	}
}
