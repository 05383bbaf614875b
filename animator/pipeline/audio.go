package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"character_animator/animator/viseme"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/wav"
)

// defaultSampleRate matches VOICEVOX's output and is used for tracks made
// only of silence.
const defaultSampleRate = beep.SampleRate(24000)

// resampleQuality is beep's interpolation quality; 4 is its recommended default.
const resampleQuality = 4

// voiceGain undoes the mismatch between beep's wav decoder (divides by
// 1<<16-1) and encoder (multiplies by 1<<15-1 and truncates), so decoded
// voices are written back at their original int16 values.
const voiceGain = (viseme.DecodeScale+0.5)/(1<<15-1) - 1

// audioPart is either encoded WAV data or a stretch of silence.
type audioPart struct {
	wav     []byte
	silence float64
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// writeTrack concatenates parts into one mono 16-bit WAV at path. The sample
// rate is taken from the first voice part; other voices are resampled to it.
func writeTrack(path string, parts []audioPart) error {
	rate := defaultSampleRate
	type decoded struct {
		stream beep.StreamSeekCloser
		format beep.Format
	}
	voices := make(map[int]decoded)
	defer func() {
		for _, d := range voices {
			d.stream.Close()
		}
	}()

	first := true
	for i, p := range parts {
		if p.wav == nil {
			continue
		}
		s, format, err := wav.Decode(bytes.NewReader(p.wav))
		if err != nil {
			return fmt.Errorf("failed to decode voice %d: %w", i, err)
		}
		voices[i] = decoded{stream: s, format: format}
		if first {
			rate = format.SampleRate
			first = false
		}
	}

	var streamers []beep.Streamer
	for i, p := range parts {
		if d, ok := voices[i]; ok {
			var s beep.Streamer = &effects.Gain{Streamer: d.stream, Gain: voiceGain}
			if d.format.SampleRate != rate {
				s = beep.Resample(resampleQuality, d.format.SampleRate, rate, s)
			}
			streamers = append(streamers, s)
			continue
		}
		if n := rate.N(secondsToDuration(p.silence)); n > 0 {
			streamers = append(streamers, beep.Silence(n))
		}
	}
	if len(streamers) == 0 {
		return errors.New("audio track would be empty")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	format := beep.Format{SampleRate: rate, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Seq(streamers...), format); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
