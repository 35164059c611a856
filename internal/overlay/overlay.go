// Package overlay projects detections onto the fixed 1920x1080 logical canvas
// used by camera tiles. Scaling to the rendered size is up to the caller.
package overlay

import (
	"fmt"
	"math"

	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// Logical canvas and label geometry
const (
	FrameWidth  = 1920
	FrameHeight = 1080

	LabelWidth    = 180
	LabelHeight   = 25
	LabelPadding  = 5
	LabelBaseline = 8
	StrokeWidth   = 3
)

// Class is the display classification of a detected person
type Class string

const (
	ClassResident Class = "resident"
	ClassGuest    Class = "guest"
	ClassAlert    Class = "alert"
)

// Colors per class
const (
	ColorResident = "#22c55e"
	ColorGuest    = "#3b82f6"
	ColorAlert    = "#ef4444"
)

// Options are the display toggles of a tile
type Options struct {
	ShowBoundingBoxes bool `json:"show_bounding_boxes" yaml:"show_bounding_boxes"`
	ShowConfidence    bool `json:"show_confidence" yaml:"show_confidence"`
}

// DefaultOptions enables boxes and confidence
func DefaultOptions() Options {
	return Options{ShowBoundingBoxes: true, ShowConfidence: true}
}

// Rect is an axis-aligned rectangle in logical coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a position in logical coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is one drawable detection
type Annotation struct {
	DetectionID string `json:"detection_id,omitempty"`
	TrackID     string `json:"track_id,omitempty"`
	Class       Class  `json:"class"`
	Color       string `json:"color"`
	Box         Rect   `json:"box"`
	Label       string `json:"label"`
	LabelBox    Rect   `json:"label_box"`
	LabelAnchor Point  `json:"label_anchor"`
}

// Classify maps a person type to its display class. Anything that is not a
// resident or a guest is an alert.
func Classify(personType string) Class {
	switch personType {
	case wire.PersonResident:
		return ClassResident
	case wire.PersonGuest:
		return ClassGuest
	default:
		return ClassAlert
	}
}

// Color returns the color of a class
func (c Class) Color() string {
	switch c {
	case ClassResident:
		return ColorResident
	case ClassGuest:
		return ColorGuest
	default:
		return ColorAlert
	}
}

// Label returns the text drawn above a detection
func Label(d wire.Detection, showConfidence bool) string {
	label := d.PersonName
	if label == "" {
		label = d.PersonType
	}
	if showConfidence {
		label = fmt.Sprintf("%s %d%%", label, int(math.Round(d.Confidence*100)))
	}
	return label
}

// Render builds the annotations of a frame. Detections whose bbox does not
// have four coordinates are skipped.
func Render(detections []wire.Detection, opts Options) []Annotation {
	if !opts.ShowBoundingBoxes || len(detections) == 0 {
		return nil
	}

	annotations := make([]Annotation, 0, len(detections))
	for _, d := range detections {
		if len(d.BBox) != 4 {
			continue
		}
		x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
		class := Classify(d.PersonType)

		annotations = append(annotations, Annotation{
			DetectionID: d.ID,
			TrackID:     d.TrackID,
			Class:       class,
			Color:       class.Color(),
			Box:         Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
			Label:       Label(d, opts.ShowConfidence),
			LabelBox:    Rect{X: x1, Y: y1 - LabelHeight, Width: LabelWidth, Height: LabelHeight},
			LabelAnchor: Point{X: x1 + LabelPadding, Y: y1 - LabelBaseline},
		})
	}
	return annotations
}

// PersonBadge returns the detection count text of a tile, empty when nobody
// is in view
func PersonBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "1 Person"
	default:
		return fmt.Sprintf("%d Persons", n)
	}
}

// Scale converts a logical rectangle to a rendered size
func Scale(r Rect, width, height float64) Rect {
	sx := width / FrameWidth
	sy := height / FrameHeight
	return Rect{X: r.X * sx, Y: r.Y * sy, Width: r.Width * sx, Height: r.Height * sy}
}
