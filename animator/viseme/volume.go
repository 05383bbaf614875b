package viseme

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/faiface/beep/wav"
)

// DecodeScale undoes beep's wav decoder, which divides 16-bit samples by
// 1<<16 - 1, so volumes come out in raw int16 units.
const DecodeScale = 1<<16 - 1

// Track is the per-frame loudness of a voice recording.
type Track struct {
	Volumes    []float64
	Duration   float64
	SampleRate int
}

// MeasureVolumes decodes a WAV stream and returns the mean absolute 16-bit
// amplitude of every video frame. Each frame covers int(rate/fps) samples and
// there are int(duration*fps) frames.
func MeasureVolumes(r io.Reader, fps int) (*Track, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", fps)
	}
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	defer streamer.Close()

	var amplitudes []float64
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, s := range buf[:n] {
			a := math.Abs(s[0])
			if format.NumChannels > 1 {
				a = (a + math.Abs(s[1])) / 2
			}
			amplitudes = append(amplitudes, a*DecodeScale)
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	rate := int(format.SampleRate)
	track := &Track{
		Duration:   float64(len(amplitudes)) / float64(rate),
		SampleRate: rate,
	}

	window := rate / fps
	frames := int(track.Duration * float64(fps))
	if window <= 0 {
		return track, nil
	}
	track.Volumes = make([]float64, 0, frames)
	for i := 0; i < frames; i++ {
		start := i * window
		end := start + window
		if start >= len(amplitudes) {
			track.Volumes = append(track.Volumes, 0)
			continue
		}
		if end > len(amplitudes) {
			end = len(amplitudes)
		}
		var sum float64
		for _, a := range amplitudes[start:end] {
			sum += a
		}
		track.Volumes = append(track.Volumes, sum/float64(end-start))
	}
	return track, nil
}

func MeasureFile(path string, fps int) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return MeasureVolumes(f, fps)
}
