package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Normalize scales samples by their own peak so the loudest one lands on
// 32767. Silence stays silence.
func Normalize(samples []float32) []int16 {
	out := make([]int16, len(samples))

	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return out
	}
	for i, s := range samples {
		out[i] = int16(float64(s) / peak * math.MaxInt16)
	}
	return out
}

// WriteWAV writes 16-bit mono PCM.
func WriteWAV(path string, samples []int16, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("finish wav: %w", err)
	}
	return f.Close()
}

// Duration returns the playing time of a WAV file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration of %s: %w", path, err)
	}
	return d, nil
}
