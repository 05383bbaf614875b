package viseme

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"character_animator/animator/models"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

type segment struct {
	amplitude float64
	seconds   float64
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// writeTone writes a mono 16-bit WAV made of constant-amplitude segments.
func writeTone(t *testing.T, rate int, segments ...segment) string {
	t.Helper()
	sr := beep.SampleRate(rate)
	var streamers []beep.Streamer
	for _, seg := range segments {
		remaining := sr.N(secondsToDuration(seg.seconds))
		amp := seg.amplitude
		streamers = append(streamers, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
			if remaining <= 0 {
				return 0, false
			}
			n := len(samples)
			if n > remaining {
				n = remaining
			}
			for i := 0; i < n; i++ {
				samples[i] = [2]float64{amp, amp}
			}
			remaining -= n
			return n, true
		}))
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: sr, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Seq(streamers...), format); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestMeasureFileFramesAndLoudness(t *testing.T) {
	path := writeTone(t, 24000,
		segment{0, 1},
		segment{0.05, 1},
		segment{0.1, 1},
	)
	track, err := MeasureFile(path, 24)
	if err != nil {
		t.Fatalf("MeasureFile: %v", err)
	}
	if track.SampleRate != 24000 || track.Duration != 3 {
		t.Fatalf("track rate=%d duration=%v", track.SampleRate, track.Duration)
	}
	if len(track.Volumes) != 72 {
		t.Fatalf("frames = %d, want 72", len(track.Volumes))
	}

	sel := NewSelector(24, DefaultThresholds, nil)
	checks := map[int]Mouth{0: MouthClosed, 23: MouthClosed, 24: MouthMid, 47: MouthMid, 48: MouthOpen, 71: MouthOpen}
	for frame, want := range checks {
		if got := sel.Mouth(track.Volumes[frame]); got != want {
			t.Errorf("frame %d volume %.0f -> %v, want %v", frame, track.Volumes[frame], got, want)
		}
	}
}

// pcmWAV builds a mono 16-bit PCM file by hand so expected levels do not
// depend on beep's encoder.
func pcmWAV(rate int, samples []int16) []byte {
	var b bytes.Buffer
	dataLen := uint32(len(samples) * 2)
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, dataLen)
	binary.Write(&b, binary.LittleEndian, samples)
	return b.Bytes()
}

func TestMeasureVolumesRawSampleUnits(t *testing.T) {
	samples := make([]int16, 24000)
	for i := range samples {
		samples[i] = 2000
		if i%2 == 1 {
			samples[i] = -2000
		}
	}
	track, err := MeasureVolumes(bytes.NewReader(pcmWAV(24000, samples)), 24)
	if err != nil {
		t.Fatalf("MeasureVolumes: %v", err)
	}
	if len(track.Volumes) != 24 {
		t.Fatalf("frames = %d, want 24", len(track.Volumes))
	}
	sel := NewSelector(24, DefaultThresholds, nil)
	for i, v := range track.Volumes {
		if math.Abs(v-2000) > 0.5 {
			t.Fatalf("frame %d volume = %.2f, want 2000", i, v)
		}
		if got := sel.Mouth(v); got != MouthMid {
			t.Fatalf("frame %d mouth = %v, want mid", i, got)
		}
	}
}

func TestMeasureVolumesRejectsGarbage(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.wav")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not a wav file at all")
	f.Seek(0, 0)
	defer f.Close()
	if _, err := MeasureVolumes(f, 24); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMouthThresholds(t *testing.T) {
	sel := NewSelector(24, DefaultThresholds, nil)
	tests := []struct {
		volume float64
		want   Mouth
	}{
		{0, MouthClosed},
		{999.9, MouthClosed},
		{1000, MouthMid},
		{2999, MouthMid},
		{3000, MouthOpen},
		{20000, MouthOpen},
	}
	for _, tt := range tests {
		if got := sel.Mouth(tt.volume); got != tt.want {
			t.Errorf("Mouth(%v) = %v, want %v", tt.volume, got, tt.want)
		}
	}
}

func TestPoseKeysMatchCatalog(t *testing.T) {
	var keys []string
	for _, eyes := range []Eyes{EyesOpen, EyesClosed} {
		for _, mouth := range []Mouth{MouthClosed, MouthMid, MouthOpen} {
			keys = append(keys, Pose{Eyes: eyes, Mouth: mouth}.Key())
		}
	}
	if !reflect.DeepEqual(keys, models.PoseKeys) {
		t.Errorf("pose keys = %v, catalog expects %v", keys, models.PoseKeys)
	}
}

func TestSampleBlinks(t *testing.T) {
	a := SampleBlinks(rand.New(rand.NewSource(7)), 10.5, 24)
	b := SampleBlinks(rand.New(rand.NewSource(7)), 10.5, 24)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
	if len(a) != 10 {
		t.Fatalf("blink count = %d, want 10", len(a))
	}
	seen := make(map[int]bool)
	for i, f := range a {
		if f < 0 || f >= 252 {
			t.Errorf("blink frame %d out of range", f)
		}
		if seen[f] {
			t.Errorf("duplicate blink frame %d", f)
		}
		if i > 0 && a[i-1] > f {
			t.Errorf("blinks not sorted: %v", a)
		}
		seen[f] = true
	}

	if got := SampleBlinks(rand.New(rand.NewSource(1)), 0.5, 24); len(got) != 0 {
		t.Errorf("sub-second clip blinked %v", got)
	}
}

func TestSequenceIsDeterministic(t *testing.T) {
	volumes := []float64{0, 500, 1500, 2500, 3500, 9000}
	blinks := []int{1, 4}
	first := NewSelector(24, DefaultThresholds, blinks).Sequence(volumes, 0.25)
	second := NewSelector(24, DefaultThresholds, blinks).Sequence(volumes, 0.25)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same inputs produced different sequences")
	}

	want := []Pose{
		{EyesOpen, MouthClosed},
		{EyesClosed, MouthClosed},
		{EyesOpen, MouthMid},
		{EyesOpen, MouthMid},
		{EyesClosed, MouthOpen},
		{EyesOpen, MouthOpen},
	}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("sequence = %v, want %v", first, want)
	}
}

func TestSequencePadsMissingVolumes(t *testing.T) {
	poses := NewSelector(24, DefaultThresholds, nil).Sequence([]float64{5000}, 0.1)
	if len(poses) != 3 {
		t.Fatalf("frames = %d, want 3", len(poses))
	}
	if poses[0].Mouth != MouthOpen || poses[1].Mouth != MouthClosed || poses[2].Mouth != MouthClosed {
		t.Errorf("poses = %v", poses)
	}
}

func TestCollapse(t *testing.T) {
	open := Pose{EyesOpen, MouthOpen}
	closed := Pose{EyesOpen, MouthClosed}
	runs := Collapse([]Pose{closed, closed, open, closed})
	want := []Run{{closed, 2}, {open, 1}, {closed, 1}}
	if !reflect.DeepEqual(runs, want) {
		t.Errorf("runs = %v", runs)
	}
	if runs[0].Seconds(24) != 2.0/24 {
		t.Errorf("seconds = %v", runs[0].Seconds(24))
	}
}
