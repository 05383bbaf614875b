package models

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed characters.yaml
var defaultCatalog []byte

// PoseKeys are the six frame states every character must provide an image for.
var PoseKeys = []string{
	"open_eye_close_mouth",
	"open_eye_mid_mouth",
	"open_eye_open_mouth",
	"close_eye_close_mouth",
	"close_eye_mid_mouth",
	"close_eye_open_mouth",
}

type Style struct {
	Name      string `yaml:"name" json:"name"`
	SpeakerID int    `yaml:"speaker_id" json:"speaker_id"`
}

type Character struct {
	Name         string            `yaml:"name" json:"name"`
	DefaultStyle string            `yaml:"default_style" json:"default_style"`
	Styles       []Style           `yaml:"styles" json:"styles"`
	Poses        map[string]string `yaml:"poses" json:"poses"`
}

// Catalog lists the characters the studio can animate.
type Catalog struct {
	Characters []Character `yaml:"characters" json:"characters"`
}

// LoadCatalog reads a YAML catalog from path, falling back to the built-in
// one when path is empty or does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		default:
			data = raw
		}
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Catalog) Validate() error {
	if len(c.Characters) == 0 {
		return errors.New("catalog has no characters")
	}
	seen := make(map[string]bool)
	for _, ch := range c.Characters {
		if ch.Name == "" {
			return errors.New("catalog character without a name")
		}
		if seen[ch.Name] {
			return fmt.Errorf("character %q listed twice", ch.Name)
		}
		seen[ch.Name] = true
		if len(ch.Styles) == 0 {
			return fmt.Errorf("character %q has no styles", ch.Name)
		}
		for _, key := range PoseKeys {
			if ch.Poses[key] == "" {
				return fmt.Errorf("character %q is missing pose %q", ch.Name, key)
			}
		}
	}
	return nil
}

func (c *Catalog) Character(name string) (*Character, error) {
	for i := range c.Characters {
		if c.Characters[i].Name == name {
			return &c.Characters[i], nil
		}
	}
	return nil, fmt.Errorf("unknown character %q", name)
}

// SpeakerID resolves a style name; an empty name selects the default style.
func (ch *Character) SpeakerID(style string) (int, error) {
	if style == "" {
		style = ch.DefaultStyle
	}
	if style == "" {
		return ch.Styles[0].SpeakerID, nil
	}
	for _, s := range ch.Styles {
		if s.Name == style {
			return s.SpeakerID, nil
		}
	}
	return 0, fmt.Errorf("character %q has no style %q", ch.Name, style)
}

// StyleName is the reverse of SpeakerID, used when listing stored clips.
func (ch *Character) StyleName(speakerID int) string {
	for _, s := range ch.Styles {
		if s.SpeakerID == speakerID {
			return s.Name
		}
	}
	return ""
}

func (ch *Character) PoseImage(key string) (string, error) {
	img, ok := ch.Poses[key]
	if !ok || img == "" {
		return "", fmt.Errorf("character %q has no image for pose %q", ch.Name, key)
	}
	return img, nil
}
