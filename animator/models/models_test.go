package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("VOICEVOX_URL", "")
	t.Setenv("ANIMATOR_WORKDIR", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	s := cfg.Settings
	if s.Width != 1920 || s.Height != 1080 || s.FPS != 24 {
		t.Errorf("resolution defaults = %dx%d@%d", s.Width, s.Height, s.FPS)
	}
	if s.MouthMid != 1000 || s.MouthOpen != 3000 {
		t.Errorf("thresholds = %v/%v", s.MouthMid, s.MouthOpen)
	}
	if s.PauseSeconds != 5 || s.MaxVolume != 2 {
		t.Errorf("pause=%v maxVolume=%v", s.PauseSeconds, s.MaxVolume)
	}
	if cfg.VoiceVox.BaseURL != "http://localhost:50021" {
		t.Errorf("base url = %q", cfg.VoiceVox.BaseURL)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "animator.json")
	body := `{"work_dir": "/srv/studio", "settings": {"fps": 30, "max_volume": 1.5}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICEVOX_URL", "http://voicevox:50021")
	t.Setenv("ANIMATOR_WORKDIR", "")
	t.Setenv("ANIMATOR_SEED", "42")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Settings.FPS != 30 || cfg.Settings.MaxVolume != 1.5 {
		t.Errorf("file values not applied: %+v", cfg.Settings)
	}
	if cfg.VoiceVox.BaseURL != "http://voicevox:50021" {
		t.Errorf("env override not applied: %q", cfg.VoiceVox.BaseURL)
	}
	if cfg.Settings.Seed != 42 {
		t.Errorf("seed = %d", cfg.Settings.Seed)
	}
	if got := cfg.JSONDir(); got != filepath.Join("/srv/studio", "json") {
		t.Errorf("JSONDir = %q", got)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in      string
		want    Position
		frac    float64
		wantErr bool
	}{
		{"", PositionCenter, 0.5, false},
		{"left_10", PositionLeft10, 0.10, false},
		{"left_25", PositionLeft25, 0.25, false},
		{"right_25", PositionRight25, 0.75, false},
		{"right_10", PositionRight10, 0.90, false},
		{"hidden", PositionHidden, 0.5, false},
		{"top", "", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePosition(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePosition(%q) err = %v", tt.in, err)
		}
		if tt.wantErr {
			continue
		}
		if got != tt.want || got.Fraction() != tt.frac {
			t.Errorf("ParsePosition(%q) = %q (%v)", tt.in, got, got.Fraction())
		}
	}
	if PositionHidden.Visible() {
		t.Error("hidden must not be visible")
	}
}

func TestParsePositionListsChoices(t *testing.T) {
	_, err := ParsePosition("top")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, p := range Positions() {
		if !strings.Contains(err.Error(), string(p)) {
			t.Errorf("error %q does not mention %s", err, p)
		}
	}
}

func TestBackgroundLegacyKey(t *testing.T) {
	var legacy Background
	if err := json.Unmarshal([]byte(`{"backgroudn_file": "sky.mp4", "start_time": 1, "duration": 4}`), &legacy); err != nil {
		t.Fatal(err)
	}
	if legacy.File != "sky.mp4" || legacy.End() != 5 {
		t.Errorf("legacy background = %+v", legacy)
	}

	out, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["background_file"] != "sky.mp4" {
		t.Errorf("marshal wrote %s", out)
	}
	if _, ok := decoded["backgroudn_file"]; ok {
		t.Errorf("marshal kept the misspelled key: %s", out)
	}
}

func TestTextSettingsDefaults(t *testing.T) {
	ts := TextSettings{Text: "hello", StartTime: 1}.WithDefaults(40, 6)
	if ts.FontSize != 40 || ts.FontColor != "white" || ts.BorderColor != "black" || ts.Duration != 5 {
		t.Errorf("defaults = %+v", ts)
	}
	var none *TextSettings
	if none.Enabled() {
		t.Error("nil settings reported enabled")
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	zunda, err := catalog.Character("ずんだもん")
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := zunda.SpeakerID(""); id != 3 {
		t.Errorf("default style speaker = %d", id)
	}
	if id, _ := zunda.SpeakerID("ささやき"); id != 22 {
		t.Errorf("ささやき speaker = %d", id)
	}
	if _, err := zunda.SpeakerID("unknown"); err == nil {
		t.Error("expected unknown style error")
	}
	metan, err := catalog.Character("四国めたん")
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := metan.SpeakerID("あまあま"); id != 0 {
		t.Errorf("あまあま speaker = %d", id)
	}
	if metan.StyleName(37) != "ヒソヒソ" {
		t.Errorf("StyleName(37) = %q", metan.StyleName(37))
	}
	img, err := metan.PoseImage("close_eye_open_mouth")
	if err != nil || img != "metan_mouth_open_eye_close.png" {
		t.Errorf("PoseImage = %q, %v", img, err)
	}
}

func TestParseCatalogMissingPose(t *testing.T) {
	data := []byte(`
characters:
  - name: test
    styles: [{name: a, speaker_id: 1}]
    poses:
      open_eye_close_mouth: a.png
`)
	if _, err := ParseCatalog(data); err == nil {
		t.Fatal("expected missing pose error")
	}
}
