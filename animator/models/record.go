package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Position is the horizontal placement of a character on the frame.
type Position string

const (
	PositionHidden  Position = "hidden"
	PositionLeft10  Position = "left_10"
	PositionLeft25  Position = "left_25"
	PositionCenter  Position = "center"
	PositionRight25 Position = "right_25"
	PositionRight10 Position = "right_10"
)

var positionFractions = map[Position]float64{
	PositionLeft10:  0.10,
	PositionLeft25:  0.25,
	PositionCenter:  0.50,
	PositionRight25: 0.75,
	PositionRight10: 0.90,
}

// Positions lists every accepted position in menu order.
func Positions() []Position {
	return []Position{PositionHidden, PositionLeft10, PositionLeft25, PositionCenter, PositionRight25, PositionRight10}
}

// ParsePosition validates s. An empty string means center.
func ParsePosition(s string) (Position, error) {
	if s == "" {
		return PositionCenter, nil
	}
	p := Position(s)
	if p == PositionHidden {
		return p, nil
	}
	if _, ok := positionFractions[p]; !ok {
		names := make([]string, 0, len(positionFractions)+1)
		for _, known := range Positions() {
			names = append(names, string(known))
		}
		return "", fmt.Errorf("unknown position %q, want one of %s", s, strings.Join(names, ", "))
	}
	return p, nil
}

// Fraction is the x-centre of the character as a share of the frame width.
func (p Position) Fraction() float64 {
	if f, ok := positionFractions[p]; ok {
		return f
	}
	return 0.5
}

func (p Position) Visible() bool {
	return p != PositionHidden
}

// TextSettings describes a title or subtitle burned into a clip.
type TextSettings struct {
	Text        string  `json:"text"`
	FontSize    int     `json:"font_size"`
	FontColor   string  `json:"font_color"`
	BorderColor string  `json:"border_color"`
	StartTime   float64 `json:"start_time"`
	Duration    float64 `json:"duration"`
}

func (t *TextSettings) Enabled() bool {
	return t != nil && t.Text != ""
}

// WithDefaults fills empty styling fields. clipDuration is used when no
// display duration was given.
func (t TextSettings) WithDefaults(fontSize int, clipDuration float64) TextSettings {
	if t.FontSize <= 0 {
		t.FontSize = fontSize
	}
	if t.FontColor == "" {
		t.FontColor = "white"
	}
	if t.BorderColor == "" {
		t.BorderColor = "black"
	}
	if t.Duration <= 0 {
		t.Duration = clipDuration - t.StartTime
	}
	return t
}

// Clip is the persisted metadata of one generated character line.
type Clip struct {
	ID        string   `json:"-"`
	MovFile   string   `json:"mov_file"`
	Mp4File   string   `json:"mp4_file"`
	AudioFile string   `json:"audio_file,omitempty"`
	Text      string   `json:"text"`
	Layer     int      `json:"layer"` // 0 means unassigned
	Position  Position `json:"position"`
	StartTime float64  `json:"start_time"`
	Duration  float64  `json:"duration"`
	Volume    float64  `json:"volume"`
	Character string   `json:"character"`
	SpeakerID int      `json:"speaker_id"`

	Title    *TextSettings `json:"title_settings"`
	Subtitle *TextSettings `json:"subtitle_settings"`
}

func (c *Clip) Deleted() bool { return c.StartTime < 0 }
func (c *Clip) End() float64   { return c.StartTime + c.Duration }
func (c *Clip) Silent() bool   { return c.Volume == 0 }

// Background is an uploaded image or video placed beneath every layer.
type Background struct {
	ID        string  `json:"-"`
	File      string  `json:"background_file"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
}

// UnmarshalJSON also accepts the misspelled key written by older builds.
func (b *Background) UnmarshalJSON(data []byte) error {
	type plain Background
	aux := struct {
		*plain
		Legacy string `json:"backgroudn_file"`
	}{plain: (*plain)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if b.File == "" {
		b.File = aux.Legacy
	}
	return nil
}

func (b *Background) Deleted() bool { return b.StartTime < 0 }
func (b *Background) End() float64  { return b.StartTime + b.Duration }
