package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"character_animator/animator/engine"
	"character_animator/animator/models"
	"character_animator/animator/timeline"
	"character_animator/animator/utils"
	"character_animator/animator/viseme"

	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest wraps every rejection of a request's fields.
	ErrInvalidRequest = errors.New("invalid animation request")
	// ErrEmptyScript is returned when a request has neither text nor a
	// silent duration.
	ErrEmptyScript = fmt.Errorf("%w: text is empty", ErrInvalidRequest)
)

// ProgressFunc receives a percentage in [0, 100] and a short status line.
type ProgressFunc func(percent int, message string)

// Synthesizer turns a line of text into WAV bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speaker int) ([]byte, error)
}

// Engine renders media. *engine.VideoEditor implements it.
type Engine interface {
	RenderClip(ctx context.Context, req engine.ClipRequest) error
	Compose(ctx context.Context, plan timeline.Plan, outputPath string) error
	MediaDuration(ctx context.Context) func(string) (float64, bool)
}

// Request describes one animation to create.
type Request struct {
	Character string   `json:"character"`
	Style     string   `json:"style,omitempty"`
	SpeakerID int      `json:"speaker_id,omitempty"` // overrides Style when set
	Text      string   `json:"text"`
	Position  string   `json:"position,omitempty"`
	Volume    *float64 `json:"volume,omitempty"` // nil means 1
	StartTime float64  `json:"start_time"`
	// After places the clip at the end of the current timeline.
	After bool `json:"after,omitempty"`
	// Silent makes a clip without speech lasting Duration seconds.
	Silent   bool    `json:"silent,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Title    *models.TextSettings `json:"title_settings,omitempty"`
	Subtitle *models.TextSettings `json:"subtitle_settings,omitempty"`
}

// Result is the stored record of a created animation.
type Result struct {
	ID   string      `json:"id"`
	Clip models.Clip `json:"clip"`
}

// Animator creates character clips and combines the timeline.
type Animator struct {
	Config   *models.Config
	Store    *timeline.Store
	Registry *timeline.LayerRegistry
	Catalog  *models.Catalog
	Voice    Synthesizer
	Engine   Engine

	logger *zap.Logger

	// mu serializes record creation; ids come from counting files.
	mu    sync.Mutex
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewAnimator wires an Animator. The store's volume range follows
// Settings.MaxVolume and a nil registry is seeded from the clips already in
// the store. Settings.Seed fixes blink placement when non-zero.
func NewAnimator(cfg *models.Config, store *timeline.Store, registry *timeline.LayerRegistry,
	catalog *models.Catalog, voice Synthesizer, eng Engine, logger *zap.Logger) (*Animator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Settings.MaxVolume > 0 {
		store.MaxVolume = cfg.Settings.MaxVolume
	}
	if registry == nil {
		clips, err := store.Clips(true)
		if err != nil {
			return nil, fmt.Errorf("failed to seed layer registry: %w", err)
		}
		registry = timeline.RegistryFromClips(clips)
	}
	seed := cfg.Settings.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Animator{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Catalog:  catalog,
		Voice:    voice,
		Engine:   eng,
		logger:   logger,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func report(progress ProgressFunc, percent int, format string, args ...interface{}) {
	if progress != nil {
		progress(percent, fmt.Sprintf(format, args...))
	}
}

func (a *Animator) sampleBlinks(duration float64) []int {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return viseme.SampleBlinks(a.rng, duration, a.Config.Settings.FPS)
}

// CreateAnimation synthesizes the request's script, renders the character
// clip and stores its record.
func (a *Animator) CreateAnimation(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	settings := a.Config.Settings

	character, err := a.Catalog.Character(req.Character)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	speaker := req.SpeakerID
	if speaker <= 0 {
		if speaker, err = character.SpeakerID(req.Style); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	position, err := models.ParsePosition(req.Position)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var segments []Segment
	if req.Silent {
		d := req.Duration
		if d <= 0 {
			d = settings.SilentDuration
		}
		segments = []Segment{{Pause: d}}
	} else {
		segments = ParseScript(req.Text, settings.PauseSeconds)
		if len(segments) == 0 {
			return nil, ErrEmptyScript
		}
	}
	// A script of pauses only renders like a silent clip.
	silent := SpokenLines(segments) == 0

	volume := 1.0
	if silent {
		volume = 0
	}
	if req.Volume != nil {
		volume = *req.Volume
	}
	if volume < 0 || volume > a.Store.MaxVolume {
		return nil, fmt.Errorf("%w: volume must be between 0 and %g, got %g", ErrInvalidRequest, a.Store.MaxVolume, volume)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id, err := a.Store.NextClipID()
	if err != nil {
		return nil, err
	}
	log := a.logger.With(zap.String("id", id), zap.String("character", character.Name))
	log.Info("creating animation", zap.Int("speaker", speaker), zap.Int("segments", len(segments)))
	report(progress, 0, "starting %s", id)

	parts := make([]audioPart, 0, len(segments))
	lines, done := SpokenLines(segments), 0
	for _, seg := range segments {
		if seg.IsPause() {
			parts = append(parts, audioPart{silence: seg.Pause})
			continue
		}
		data, err := a.Voice.Synthesize(ctx, seg.Text, speaker)
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize %q: %w", seg.Text, err)
		}
		parts = append(parts, audioPart{wav: data})
		done++
		report(progress, 5+45*done/lines, "synthesized line %d/%d", done, lines)
	}

	audioRel := filepath.Join("audio", id+".wav")
	audioPath := a.Config.Resolve(audioRel)
	if err := utils.EnsureDirectoryExists(filepath.Dir(audioPath)); err != nil {
		return nil, err
	}
	if err := writeTrack(audioPath, parts); err != nil {
		return nil, fmt.Errorf("failed to assemble audio: %w", err)
	}
	report(progress, 55, "audio assembled")

	track, err := viseme.MeasureFile(audioPath, settings.FPS)
	if err != nil {
		return nil, err
	}
	if track.Duration <= 0 {
		return nil, fmt.Errorf("audio for %s has no samples", id)
	}

	frames, err := a.poseFrames(character, track)
	if err != nil {
		return nil, err
	}
	report(progress, 65, "selected %d pose changes", len(frames))

	movRel := filepath.Join("video", id+".mov")
	mp4Rel := filepath.Join("video", id+".mp4")
	err = a.Engine.RenderClip(ctx, engine.ClipRequest{
		Frames:    frames,
		AudioPath: audioPath,
		Duration:  track.Duration,
		Position:  position,
		MovPath:   a.Config.Resolve(movRel),
		Mp4Path:   a.Config.Resolve(mp4Rel),
		Title:     req.Title,
		Subtitle:  req.Subtitle,
	})
	if err != nil {
		return nil, err
	}
	report(progress, 90, "clip rendered")

	start := req.StartTime
	if req.After {
		if start, err = a.timelineEnd(); err != nil {
			return nil, err
		}
	}
	text := req.Text
	if req.Silent {
		text = ""
	}
	clip := models.Clip{
		ID:        id,
		MovFile:   filepath.ToSlash(movRel),
		Mp4File:   filepath.ToSlash(mp4Rel),
		AudioFile: filepath.ToSlash(audioRel),
		Text:      text,
		Layer:     a.Registry.Assign(character.Name),
		Position:  position,
		StartTime: start,
		Duration:  track.Duration,
		Volume:    volume,
		Character: character.Name,
		SpeakerID: speaker,
		Title:     req.Title,
		Subtitle:  req.Subtitle,
	}
	if _, err := a.Store.SaveClip(&clip); err != nil {
		return nil, err
	}

	log.Info("animation created", zap.Float64("duration", clip.Duration), zap.Int("layer", clip.Layer))
	report(progress, 100, "created %s", id)
	return &Result{ID: id, Clip: clip}, nil
}

// poseFrames runs the viseme selector over the track and maps runs of equal
// poses to the character's images.
func (a *Animator) poseFrames(character *models.Character, track *viseme.Track) ([]engine.PoseFrame, error) {
	fps := a.Config.Settings.FPS
	thresholds := viseme.Thresholds{Mid: a.Config.Settings.MouthMid, Open: a.Config.Settings.MouthOpen}
	selector := viseme.NewSelector(fps, thresholds, a.sampleBlinks(track.Duration))

	runs := viseme.Collapse(selector.Sequence(track.Volumes, track.Duration))
	frames := make([]engine.PoseFrame, 0, len(runs))
	for _, run := range runs {
		image, err := character.PoseImage(run.Pose.Key())
		if err != nil {
			return nil, err
		}
		frames = append(frames, engine.PoseFrame{
			Image:    a.Config.ImagePath(image),
			Duration: run.Seconds(fps),
		})
	}
	return frames, nil
}

// timelineEnd is where the next clip starts when appended: the latest end of
// any active clip.
func (a *Animator) timelineEnd() (float64, error) {
	clips, err := a.Store.Clips(false)
	if err != nil {
		return 0, err
	}
	end := 0.0
	for i := range clips {
		if e := clips[i].End(); e > end {
			end = e
		}
	}
	return end, nil
}

// ClearTemp removes intermediate files left in the temp directory.
func (a *Animator) ClearTemp() error {
	entries, err := os.ReadDir(a.Config.TempDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.Config.TempDir(), e.Name())); err != nil {
			return err
		}
	}
	return nil
}
