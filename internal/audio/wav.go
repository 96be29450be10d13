package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag from the fmt chunk.
const wavFormatPCM = 1

// Buffer is a decoded mono signal normalized to [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
	// Channels is the channel count of the source before mixdown.
	Channels int
}

// DurationMs returns the buffer length in milliseconds.
func (b *Buffer) DurationMs() int64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return int64(len(b.Samples)) * 1000 / int64(b.SampleRate)
}

// ReadWav decodes a PCM WAV file into a mono float buffer. Multi-channel
// audio is mixed down by averaging channels.
func ReadWav(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, errors.New("not a valid WAV/RIFF file")
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("unsupported WAV audio format %d: only PCM (1) supported", decoder.WavAudioFormat)
	}
	switch decoder.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bits per sample: %d", decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding PCM samples: %w", err)
	}

	channels := int(decoder.NumChans)
	samples, err := intBufferToMono(buf, channels, int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
		Channels:   channels,
	}, nil
}

// intBufferToMono converts interleaved integer PCM to mono float64 by
// averaging the channels of each frame.
func intBufferToMono(buf *goaudio.IntBuffer, channels, bitDepth int) ([]float64, error) {
	if channels < 1 {
		return nil, errors.New("WAV file declares zero channels")
	}
	scale := 1.0 / float64(int64(1)<<(uint(bitDepth)-1))

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		out[i] = sum / float64(channels) * scale
	}
	return out, nil
}

// WriteWav encodes mono samples in [-1, 1] as a 16-bit PCM WAV file.
func WriteWav(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, wavFormatPCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
