package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"character_animator/animator/models"
	"character_animator/animator/utils"

	"go.uber.org/zap"
)

const (
	clipPrefix       = "output_"
	backgroundPrefix = "background_"
	recordExt        = ".json"
)

type Kind string

const (
	KindClip       Kind = "clip"
	KindBackground Kind = "background"
)

// Record is one row of the timeline: either a character clip or a background.
type Record struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	Clip       *models.Clip       `json:"clip,omitempty"`
	Background *models.Background `json:"background,omitempty"`
}

func (r Record) StartTime() float64 {
	if r.Clip != nil {
		return r.Clip.StartTime
	}
	return r.Background.StartTime
}

func (r Record) Duration() float64 {
	if r.Clip != nil {
		return r.Clip.Duration
	}
	return r.Background.Duration
}

func (r Record) Deleted() bool {
	return r.StartTime() < 0
}

// Store keeps one JSON document per record in a single directory.
type Store struct {
	dir       string
	MaxVolume float64

	mu     sync.Mutex
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := utils.EnsureDirectoryExists(dir); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &Store{dir: dir, MaxVolume: 2, logger: logger}, nil
}

func (s *Store) Dir() string { return s.dir }

func kindOf(id string) (Kind, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return "", fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	switch {
	case utils.SequenceOf(id, clipPrefix) > 0:
		return KindClip, nil
	case utils.SequenceOf(id, backgroundPrefix) > 0:
		return KindBackground, nil
	}
	return "", fmt.Errorf("%w: %q", ErrRecordNotFound, id)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *Store) ids(prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, prefix+"*"+recordExt))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSuffix(filepath.Base(m), recordExt)
		if utils.SequenceOf(id, prefix) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return utils.SequenceOf(ids[i], prefix) < utils.SequenceOf(ids[j], prefix)
	})
	return ids, nil
}

func (s *Store) read(id string) (Record, error) {
	kind, err := kindOf(id)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read %s: %w", id, err)
	}

	rec := Record{ID: id, Kind: kind}
	switch kind {
	case KindClip:
		var clip models.Clip
		if err := json.Unmarshal(data, &clip); err != nil {
			return Record{}, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		clip.ID = id
		rec.Clip = &clip
	case KindBackground:
		var bg models.Background
		if err := json.Unmarshal(data, &bg); err != nil {
			return Record{}, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		bg.ID = id
		rec.Background = &bg
	}
	return rec, nil
}

func (s *Store) write(rec Record) error {
	var v any = rec.Clip
	if rec.Kind == KindBackground {
		v = rec.Background
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.ID, err)
	}
	if err := utils.WriteFileAtomic(s.path(rec.ID), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) list(prefix string, includeDeleted bool) ([]Record, error) {
	ids, err := s.ids(prefix)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			return nil, err
		}
		if !includeDeleted && rec.Deleted() {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clips returns clip records in creation order.
func (s *Store) Clips(includeDeleted bool) ([]models.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.list(clipPrefix, includeDeleted)
	if err != nil {
		return nil, err
	}
	clips := make([]models.Clip, len(records))
	for i, r := range records {
		clips[i] = *r.Clip
	}
	return clips, nil
}

// Backgrounds returns background records in creation order.
func (s *Store) Backgrounds(includeDeleted bool) ([]models.Background, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.list(backgroundPrefix, includeDeleted)
	if err != nil {
		return nil, err
	}
	bgs := make([]models.Background, len(records))
	for i, r := range records {
		bgs[i] = *r.Background
	}
	return bgs, nil
}

// LoadAll returns every record that is not soft-deleted, ascending by start
// time. Records starting together keep creation order, backgrounds first.
func (s *Store) LoadAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bgs, err := s.list(backgroundPrefix, false)
	if err != nil {
		return nil, err
	}
	clips, err := s.list(clipPrefix, false)
	if err != nil {
		return nil, err
	}
	all := append(bgs, clips...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartTime() < all[j].StartTime()
	})
	return all, nil
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *Store) nextID(prefix string) (string, error) {
	n, err := utils.NextSequence(s.dir, prefix, recordExt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", prefix, n), nil
}

// NextClipID reserves nothing; it only predicts the id CreateClip would use
// so media files can share the record's number.
func (s *Store) NextClipID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID(clipPrefix)
}

// SaveClip writes c under c.ID, or under the next free id when c.ID is empty.
func (s *Store) SaveClip(c *models.Clip) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		id, err := s.nextID(clipPrefix)
		if err != nil {
			return "", err
		}
		c.ID = id
	} else if kind, err := kindOf(c.ID); err != nil || kind != KindClip {
		return "", fmt.Errorf("invalid clip id %q", c.ID)
	}
	if err := s.write(Record{ID: c.ID, Kind: KindClip, Clip: c}); err != nil {
		return "", err
	}
	s.logger.Info("clip saved", zap.String("id", c.ID), zap.String("character", c.Character))
	return c.ID, nil
}

// CreateClip writes c under the next free clip id, ignoring any id it carries.
func (s *Store) CreateClip(c *models.Clip) (string, error) {
	c.ID = ""
	return s.SaveClip(c)
}

func (s *Store) CreateBackground(b *models.Background) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID(backgroundPrefix)
	if err != nil {
		return "", err
	}
	b.ID = id
	if err := s.write(Record{ID: id, Kind: KindBackground, Background: b}); err != nil {
		return "", err
	}
	s.logger.Info("background saved", zap.String("id", id), zap.String("file", b.File))
	return id, nil
}

// UpdateField parses raw as the field's type and applies it through the
// matching setter.
func (s *Store) UpdateField(id string, field Field, raw string) error {
	switch field {
	case FieldLayer:
		v, err := parseInt(field, raw)
		if err != nil {
			return err
		}
		return s.SetLayer(id, v)
	case FieldStartTime:
		v, err := parseFloat(field, raw)
		if err != nil {
			return err
		}
		return s.SetStartTime(id, v)
	case FieldDuration:
		v, err := parseFloat(field, raw)
		if err != nil {
			return err
		}
		return s.SetDuration(id, v)
	case FieldVolume:
		v, err := parseFloat(field, raw)
		if err != nil {
			return err
		}
		return s.SetVolume(id, v)
	}
	return &ValidationError{Field: field.String(), Value: raw, Reason: "field is not editable"}
}

func (s *Store) SetLayer(id string, layer int) error {
	if layer < 1 {
		return &ValidationError{Field: FieldLayer.String(), Value: fmt.Sprint(layer), Reason: "must be 1 or greater"}
	}
	return s.modify(id, FieldLayer, func(r *Record) error {
		if r.Kind != KindClip {
			return &ValidationError{Field: FieldLayer.String(), Reason: "backgrounds always sit below every layer"}
		}
		r.Clip.Layer = layer
		return nil
	})
}

// SetStartTime moves a record. A negative start hides it from the timeline.
func (s *Store) SetStartTime(id string, start float64) error {
	return s.modify(id, FieldStartTime, func(r *Record) error {
		if r.Clip != nil {
			r.Clip.StartTime = start
		} else {
			r.Background.StartTime = start
		}
		return nil
	})
}

func (s *Store) SetDuration(id string, duration float64) error {
	if duration <= 0 {
		return &ValidationError{Field: FieldDuration.String(), Value: formatFloat(duration), Reason: "must be greater than 0"}
	}
	return s.modify(id, FieldDuration, func(r *Record) error {
		if r.Clip != nil {
			r.Clip.Duration = duration
		} else {
			r.Background.Duration = duration
		}
		return nil
	})
}

func (s *Store) SetVolume(id string, volume float64) error {
	if volume < 0 || volume > s.MaxVolume {
		return &ValidationError{
			Field:  FieldVolume.String(),
			Value:  formatFloat(volume),
			Reason: fmt.Sprintf("must be between 0 and %s", formatFloat(s.MaxVolume)),
		}
	}
	return s.modify(id, FieldVolume, func(r *Record) error {
		if r.Kind != KindClip {
			return &ValidationError{Field: FieldVolume.String(), Reason: "backgrounds carry no voice track"}
		}
		r.Clip.Volume = volume
		return nil
	})
}

// Delete soft-deletes a record by moving it before the start of the timeline.
// The file stays on disk.
func (s *Store) Delete(id string) error {
	return s.SetStartTime(id, -1)
}

func (s *Store) modify(id string, field Field, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(id)
	if err != nil {
		return err
	}
	if err := fn(&rec); err != nil {
		return err
	}
	if err := s.write(rec); err != nil {
		return err
	}
	s.logger.Debug("record updated", zap.String("id", id), zap.Stringer("field", field))
	return nil
}
