package timeline

import (
	"math"
	"path/filepath"
	"sort"

	"character_animator/animator/models"
)

// BackgroundLayer is the layer number reported for background placements.
const BackgroundLayer = 0

// durationTolerance is how far probed media may drift from the stored
// duration before the placement counts as trimmed.
const durationTolerance = 1e-3

// Options controls how records are turned into a Plan.
type Options struct {
	Width  int
	Height int
	FPS    int

	// SourceDir prefixes background file names.
	SourceDir string

	// MediaDuration reports the real length of a media file. Optional.
	MediaDuration func(path string) (float64, bool)
}

// Placement positions one record's media on the combined timeline.
type Placement struct {
	RecordID  string          `json:"record_id"`
	Source    string          `json:"source"`
	Character string          `json:"character,omitempty"`
	Layer     int             `json:"layer"`
	Start     float64         `json:"start"`
	Duration  float64         `json:"duration"`
	Offset    float64         `json:"offset"` // from the start of its layer
	Position  models.Position `json:"position,omitempty"`
	Volume    float64         `json:"volume"`
	Silent    bool            `json:"silent"`
	Trimmed   bool            `json:"trimmed"`
}

func (p Placement) End() float64 { return p.Start + p.Duration }

// Layer is one z-order bucket and the time span its members cover.
type Layer struct {
	Number  int         `json:"number"`
	Start   float64     `json:"start"`
	End     float64     `json:"end"`
	Members []Placement `json:"members"`
}

func (l Layer) Duration() float64 { return l.End - l.Start }

// Plan is the flattened composition. Layers are ordered back to front, so
// the last layer is drawn on top. Backgrounds sit below every layer.
type Plan struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FPS         int         `json:"fps"`
	Duration    float64     `json:"duration"`
	Backgrounds []Placement `json:"backgrounds"`
	Layers      []Layer     `json:"layers"`
}

func (p Plan) Empty() bool {
	return len(p.Backgrounds) == 0 && len(p.Layers) == 0
}

// Voices returns the placements that contribute audio, in drawing order.
func (p Plan) Voices() []Placement {
	var out []Placement
	for _, l := range p.Layers {
		for _, m := range l.Members {
			if !m.Silent {
				out = append(out, m)
			}
		}
	}
	return out
}

// Flatten groups active records into layers. Clips without a layer take the
// registry's layer for their character. The input slices are not modified and
// the result depends only on the inputs and the registry's assignments.
func Flatten(clips []models.Clip, backgrounds []models.Background, registry *LayerRegistry, opts Options) Plan {
	if registry == nil {
		registry = RegistryFromClips(clips)
	}

	plan := Plan{
		Width:       opts.Width,
		Height:      opts.Height,
		FPS:         opts.FPS,
		Backgrounds: []Placement{},
		Layers:      []Layer{},
	}

	for _, bg := range backgrounds {
		if bg.Deleted() {
			continue
		}
		source := bg.File
		if opts.SourceDir != "" {
			source = filepath.Join(opts.SourceDir, bg.File)
		}
		p := Placement{
			RecordID: bg.ID,
			Source:   source,
			Layer:    BackgroundLayer,
			Start:    bg.StartTime,
			Duration: bg.Duration,
			Offset:   bg.StartTime,
			Silent:   true,
		}
		p.Trimmed = trimmed(opts, source, bg.Duration)
		plan.Backgrounds = append(plan.Backgrounds, p)
		plan.Duration = math.Max(plan.Duration, p.End())
	}

	// Stored layers are claimed before any unset clip is assigned one.
	for _, c := range clips {
		if !c.Deleted() {
			registry.Observe(c.Character, c.Layer)
		}
	}

	groups := make(map[int][]Placement)
	for _, c := range clips {
		if c.Deleted() {
			continue
		}
		layer := c.Layer
		if layer < 1 {
			layer = registry.Assign(c.Character)
		}
		position := c.Position
		if position == "" {
			position = models.PositionCenter
		}
		p := Placement{
			RecordID:  c.ID,
			Source:    c.MovFile,
			Character: c.Character,
			Layer:     layer,
			Start:     c.StartTime,
			Duration:  c.Duration,
			Position:  position,
			Volume:    c.Volume,
			Silent:    c.Silent(),
		}
		p.Trimmed = trimmed(opts, c.MovFile, c.Duration)
		groups[layer] = append(groups[layer], p)
		plan.Duration = math.Max(plan.Duration, p.End())
	}

	numbers := make([]int, 0, len(groups))
	for n := range groups {
		numbers = append(numbers, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))

	for _, n := range numbers {
		members := groups[n]
		if len(members) == 0 {
			continue
		}
		layer := Layer{Number: n, Start: members[0].Start, End: members[0].End()}
		for _, m := range members[1:] {
			layer.Start = math.Min(layer.Start, m.Start)
			layer.End = math.Max(layer.End, m.End())
		}
		for i := range members {
			members[i].Offset = members[i].Start - layer.Start
		}
		layer.Members = members
		plan.Layers = append(plan.Layers, layer)
	}

	return plan
}

func trimmed(opts Options, source string, stored float64) bool {
	if opts.MediaDuration == nil {
		return false
	}
	actual, ok := opts.MediaDuration(source)
	if !ok {
		return false
	}
	return math.Abs(actual-stored) > durationTolerance
}
