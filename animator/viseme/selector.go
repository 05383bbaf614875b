package viseme

import (
	"math"
	"math/rand"
	"sort"
)

type Mouth int

const (
	MouthClosed Mouth = iota
	MouthMid
	MouthOpen
)

func (m Mouth) String() string {
	switch m {
	case MouthMid:
		return "mid"
	case MouthOpen:
		return "open"
	default:
		return "close"
	}
}

type Eyes int

const (
	EyesOpen Eyes = iota
	EyesClosed
)

func (e Eyes) String() string {
	if e == EyesClosed {
		return "close"
	}
	return "open"
}

// Pose is one of the six images a character can show on a frame.
type Pose struct {
	Eyes  Eyes
	Mouth Mouth
}

// Key names the pose the way character catalogs do, e.g. "close_eye_mid_mouth".
func (p Pose) Key() string {
	return p.Eyes.String() + "_eye_" + p.Mouth.String() + "_mouth"
}

// Thresholds split loudness into mouth shapes: below Mid is closed, below
// Open is mid, anything else is open.
type Thresholds struct {
	Mid  float64
	Open float64
}

var DefaultThresholds = Thresholds{Mid: 1000, Open: 3000}

// SampleBlinks picks int(duration) distinct frames out of int(duration*fps)
// on which the eyes are closed. Pass a seeded rng for reproducible output.
func SampleBlinks(rng *rand.Rand, duration float64, fps int) []int {
	frames := int(duration * float64(fps))
	count := int(duration)
	if count > frames {
		count = frames
	}
	if count <= 0 {
		return nil
	}
	blinks := rng.Perm(frames)[:count]
	sort.Ints(blinks)
	return blinks
}

// Selector classifies frames into poses. It is deterministic for a given
// blink set.
type Selector struct {
	fps        int
	thresholds Thresholds
	blinks     map[int]struct{}
}

func NewSelector(fps int, thresholds Thresholds, blinks []int) *Selector {
	set := make(map[int]struct{}, len(blinks))
	for _, b := range blinks {
		set[b] = struct{}{}
	}
	return &Selector{fps: fps, thresholds: thresholds, blinks: set}
}

func (s *Selector) Mouth(volume float64) Mouth {
	switch {
	case volume < s.thresholds.Mid:
		return MouthClosed
	case volume < s.thresholds.Open:
		return MouthMid
	default:
		return MouthOpen
	}
}

func (s *Selector) Pose(frame int, volume float64) Pose {
	eyes := EyesOpen
	if _, ok := s.blinks[frame]; ok {
		eyes = EyesClosed
	}
	return Pose{Eyes: eyes, Mouth: s.Mouth(volume)}
}

// Sequence returns a pose for each of the ceil(duration*fps) frames. Frames
// past the end of volumes are treated as silent.
func (s *Selector) Sequence(volumes []float64, duration float64) []Pose {
	frames := int(math.Ceil(duration*float64(s.fps) - 1e-9))
	poses := make([]Pose, frames)
	for i := range poses {
		var v float64
		if i < len(volumes) {
			v = volumes[i]
		}
		poses[i] = s.Pose(i, v)
	}
	return poses
}

// Run is a stretch of consecutive frames showing the same pose.
type Run struct {
	Pose   Pose
	Frames int
}

// Seconds is the run's on-screen time at fps.
func (r Run) Seconds(fps int) float64 {
	return float64(r.Frames) / float64(fps)
}

// Collapse merges consecutive equal poses.
func Collapse(poses []Pose) []Run {
	var runs []Run
	for _, p := range poses {
		if n := len(runs); n > 0 && runs[n-1].Pose == p {
			runs[n-1].Frames++
			continue
		}
		runs = append(runs, Run{Pose: p, Frames: 1})
	}
	return runs
}
