// Package export writes a flattened timeline in formats other editors can
// open.
package export

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strconv"

	"character_animator/animator/timeline"
	"character_animator/animator/utils"

	"github.com/beevik/etree"
)

const FCPXMLVersion = "1.10"

// silentGain is what a muted clip is written as; FCPXML has no -inf.
const silentGain = -96.0

var ErrEmptyPlan = errors.New("nothing to export")

// FCPXML converts plan into a Final Cut Pro XML document. Backgrounds go on
// lane 1 and every timeline layer on the lane above the previous one, so the
// stacking order matches the rendered video. resolve maps the plan's work-dir
// relative sources to absolute paths.
func FCPXML(plan timeline.Plan, project string, resolve func(string) string) (*etree.Document, error) {
	if plan.Empty() {
		return nil, ErrEmptyPlan
	}
	if resolve == nil {
		resolve = func(p string) string { return p }
	}
	fps := plan.FPS
	if fps <= 0 {
		fps = 24
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateDirective("DOCTYPE fcpxml")

	root := doc.CreateElement("fcpxml")
	root.CreateAttr("version", FCPXMLVersion)

	resources := root.CreateElement("resources")
	format := resources.CreateElement("format")
	format.CreateAttr("id", "r1")
	format.CreateAttr("name", fmt.Sprintf("FFVideoFormat%dp%d", plan.Height, fps))
	format.CreateAttr("frameDuration", fmt.Sprintf("1/%ds", fps))
	format.CreateAttr("width", strconv.Itoa(plan.Width))
	format.CreateAttr("height", strconv.Itoa(plan.Height))

	assets := make(map[string]string)
	assetFor := func(p timeline.Placement) string {
		if id, ok := assets[p.Source]; ok {
			return id
		}
		id := fmt.Sprintf("r%d", len(assets)+2)
		assets[p.Source] = id

		path := resolve(p.Source)
		a := resources.CreateElement("asset")
		a.CreateAttr("id", id)
		a.CreateAttr("name", filepath.Base(path))
		a.CreateAttr("start", "0s")
		a.CreateAttr("duration", fcpTime(p.Duration, fps))
		a.CreateAttr("hasVideo", "1")
		if !utils.IsImageFile(path) {
			a.CreateAttr("hasAudio", "1")
			a.CreateAttr("audioSources", "1")
			a.CreateAttr("audioChannels", "1")
		}
		a.CreateAttr("format", "r1")
		rep := a.CreateElement("media-rep")
		rep.CreateAttr("kind", "original-media")
		rep.CreateAttr("src", fileURL(path))
		return id
	}

	library := root.CreateElement("library")
	event := library.CreateElement("event")
	event.CreateAttr("name", project)
	proj := event.CreateElement("project")
	proj.CreateAttr("name", project)

	sequence := proj.CreateElement("sequence")
	sequence.CreateAttr("format", "r1")
	sequence.CreateAttr("duration", fcpTime(plan.Duration, fps))
	sequence.CreateAttr("tcStart", "0s")
	sequence.CreateAttr("tcFormat", "NDF")
	sequence.CreateAttr("audioLayout", "stereo")
	sequence.CreateAttr("audioRate", "48k")

	gap := sequence.CreateElement("spine").CreateElement("gap")
	gap.CreateAttr("name", "Gap")
	gap.CreateAttr("offset", "0s")
	gap.CreateAttr("start", "0s")
	gap.CreateAttr("duration", fcpTime(plan.Duration, fps))

	for _, bg := range plan.Backgrounds {
		addClip(gap, assetFor(bg), bg, 1, fps)
	}
	for i, l := range plan.Layers {
		for _, m := range l.Members {
			addClip(gap, assetFor(m), m, i+2, fps)
		}
	}
	doc.Indent(2)
	return doc, nil
}

// WriteFCPXML exports plan to path.
func WriteFCPXML(plan timeline.Plan, project, path string, resolve func(string) string) error {
	doc, err := FCPXML(plan, project, resolve)
	if err != nil {
		return err
	}
	if err := utils.EnsureDirectoryExists(filepath.Dir(path)); err != nil {
		return err
	}
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func addClip(parent *etree.Element, ref string, p timeline.Placement, lane, fps int) {
	c := parent.CreateElement("asset-clip")
	c.CreateAttr("ref", ref)
	c.CreateAttr("lane", strconv.Itoa(lane))
	c.CreateAttr("offset", fcpTime(p.Start, fps))
	c.CreateAttr("name", p.RecordID)
	c.CreateAttr("start", "0s")
	c.CreateAttr("duration", fcpTime(p.Duration, fps))
	if p.Layer == timeline.BackgroundLayer {
		return
	}
	vol := c.CreateElement("adjust-volume")
	vol.CreateAttr("amount", gainDB(p.Volume, p.Silent))
}

// fcpTime snaps seconds to the frame grid as a rational time value.
func fcpTime(seconds float64, fps int) string {
	frames := int64(math.Round(seconds * float64(fps)))
	if frames <= 0 {
		return "0s"
	}
	if frames%int64(fps) == 0 {
		return fmt.Sprintf("%ds", frames/int64(fps))
	}
	return fmt.Sprintf("%d/%ds", frames, fps)
}

func gainDB(volume float64, silent bool) string {
	db := silentGain
	if !silent && volume > 0 {
		db = math.Max(silentGain, 20*math.Log10(volume))
	}
	return strconv.FormatFloat(db, 'f', 1, 64) + "dB"
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
