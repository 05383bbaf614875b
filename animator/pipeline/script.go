package pipeline

import (
	"regexp"
	"strings"
)

// Segment is one piece of a script: either a line to speak or a pause.
type Segment struct {
	Text  string
	Pause float64 // seconds of silence when Text is empty
}

func (s Segment) IsPause() bool { return s.Text == "" }

// pauseRegex matches half- and full-width digit runs, which scripts use to
// write pauses in seconds.
var pauseRegex = regexp.MustCompile(`[0-9０-９]+`)

// ParseScript splits text on digit runs. A digit run becomes a pause of that
// many seconds. Every spoken line is followed by defaultPause seconds of
// silence. Whitespace-only pieces are dropped.
func ParseScript(text string, defaultPause float64) []Segment {
	var segments []Segment
	addLine := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		segments = append(segments, Segment{Text: line})
		if defaultPause > 0 {
			segments = append(segments, Segment{Pause: defaultPause})
		}
	}

	last := 0
	for _, loc := range pauseRegex.FindAllStringIndex(text, -1) {
		addLine(text[last:loc[0]])
		segments = append(segments, Segment{Pause: float64(parseDigits(text[loc[0]:loc[1]]))})
		last = loc[1]
	}
	addLine(text[last:])
	return segments
}

func parseDigits(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
		case r >= '０' && r <= '９':
			n = n*10 + int(r-'０')
		}
	}
	return n
}

// SpokenLines counts the segments that need synthesis.
func SpokenLines(segments []Segment) int {
	n := 0
	for _, s := range segments {
		if !s.IsPause() {
			n++
		}
	}
	return n
}
