package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNextSequence(t *testing.T) {
	dir := t.TempDir()
	n, err := NextSequence(dir, "output_", ".json")
	if err != nil || n != 1 {
		t.Fatalf("empty dir: n=%d err=%v", n, err)
	}
	for _, name := range []string{"output_1.json", "output_2.json", "background_1.json", "output_1.mov"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := NextSequence(dir, "output_", ".json"); n != 3 {
		t.Errorf("NextSequence(output_) = %d, want 3", n)
	}
	if n, _ := NextSequence(dir, "background_", ".json"); n != 2 {
		t.Errorf("NextSequence(background_) = %d, want 2", n)
	}
}

func TestSequenceOf(t *testing.T) {
	tests := []struct {
		name, prefix string
		want         int
	}{
		{"json/output_12.json", "output_", 12},
		{"background_3", "background_", 3},
		{"output_x.json", "output_", -1},
		{"other_2.json", "output_", -1},
	}
	for _, tt := range tests {
		if got := SequenceOf(tt.name, tt.prefix); got != tt.want {
			t.Errorf("SequenceOf(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	if err := WriteFileAtomic(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("content = %q err=%v", got, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bg.png")
	if err := os.WriteFile(src, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	dst, err := CopyFile(src, filepath.Join(dir, "source"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dst) != "bg.png" || !FileExists(dst) {
		t.Errorf("dst = %q", dst)
	}
}

func TestCreateConcatFileEscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")
	if err := CreateConcatFile([]ConcatEntry{{Path: filepath.Join(dir, "it's.png"), Duration: 1.5}}, list); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(list)
	if !strings.Contains(string(data), `it'\''s.png`) {
		t.Errorf("list = %q", data)
	}
	if !strings.HasPrefix(string(data), "ffconcat version 1.0\n") || !strings.Contains(string(data), "duration 1.500000\n") {
		t.Errorf("list = %q", data)
	}
}

func TestMediaKinds(t *testing.T) {
	if !IsImageFile("a/B.PNG") || IsImageFile("clip.mov") {
		t.Error("IsImageFile misclassified")
	}
	if !IsVideoFile("clip.MOV") || IsVideoFile("a.png") {
		t.Error("IsVideoFile misclassified")
	}
	if got := SanitizeFilename(` a:b?.mp4 `); got != "a_b_.mp4" {
		t.Errorf("SanitizeFilename = %q", got)
	}
}
