package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

// IsImageFile reports whether path has a still-image extension
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideoFile reports whether path has a video extension
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// NextSequence returns one more than the number of files in dir matching
// prefix*ext. Two writers racing on the same directory can get the same number.
func NextSequence(dir, prefix, ext string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"+ext))
	if err != nil {
		return 0, err
	}
	return len(matches) + 1, nil
}

// SequenceOf extracts N from names like "output_N.json". It returns -1 when
// the name does not carry a number.
func SequenceOf(name, prefix string) int {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	n, err := strconv.Atoi(strings.TrimPrefix(base, prefix))
	if err != nil || !strings.HasPrefix(base, prefix) {
		return -1
	}
	return n
}

// WriteFileAtomic writes data to a temp file next to path and renames it over path
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// CopyFile copies src into dstDir keeping its base name and returns the new path
func CopyFile(src, dstDir string) (string, error) {
	if err := EnsureDirectoryExists(dstDir); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if absSrc, err := filepath.Abs(src); err == nil {
		if absDst, err := filepath.Abs(dst); err == nil && absSrc == absDst {
			return dst, nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}

// ConcatEntry is one line of an ffmpeg concat list. A zero Duration leaves
// the entry's length to the media itself.
type ConcatEntry struct {
	Path     string
	Duration float64
}

// CreateConcatFile writes an ffmpeg concat demuxer list
func CreateConcatFile(entries []ConcatEntry, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	fmt.Fprintln(w, "ffconcat version 1.0")
	for _, e := range entries {
		fmt.Fprintf(w, "file '%s'\n", EscapeConcatPath(e.Path))
		if e.Duration > 0 {
			fmt.Fprintf(w, "duration %.6f\n", e.Duration)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// EscapeConcatPath makes a path safe for a single-quoted concat list entry
func EscapeConcatPath(path string) string {
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	path = filepath.ToSlash(path)
	return strings.ReplaceAll(path, "'", `'\''`)
}

func ValidateFFmpegInstalled() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH. Please install FFmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH. Please install FFmpeg")
	}
	return nil
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	reg := regexp.MustCompile(`[<>:"/\\|?*]`)
	sanitized := reg.ReplaceAllString(filename, "_")

	sanitized = strings.Trim(sanitized, " .")
	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, 0755)
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}
