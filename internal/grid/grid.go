// Package grid maps a camera selection onto the bounded slots of a grid layout
package grid

import (
	"errors"
	"fmt"
)

// Layout is a square grid mode
type Layout string

const (
	Layout1x1 Layout = "1x1"
	Layout2x2 Layout = "2x2"
	Layout3x3 Layout = "3x3"
	Layout4x4 Layout = "4x4"

	DefaultLayout = Layout2x2
)

// ErrUnknownLayout is returned when parsing an unsupported layout
var ErrUnknownLayout = errors.New("unknown layout")

var columns = map[Layout]int{
	Layout1x1: 1,
	Layout2x2: 2,
	Layout3x3: 3,
	Layout4x4: 4,
}

// Layouts returns the supported layouts from smallest to largest
func Layouts() []Layout {
	return []Layout{Layout1x1, Layout2x2, Layout3x3, Layout4x4}
}

// ParseLayout validates a layout name
func ParseLayout(s string) (Layout, error) {
	l := Layout(s)
	if _, ok := columns[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s)
	}
	return l, nil
}

// Columns returns the number of columns (and rows) of the layout, 0 if unknown
func (l Layout) Columns() int {
	return columns[l]
}

// Capacity returns the number of slots of the layout, 0 if unknown
func (l Layout) Capacity() int {
	n := columns[l]
	return n * n
}

// Slot is one rendering position. An empty CameraID is a placeholder.
type Slot struct {
	Index    int    `json:"index"`
	Row      int    `json:"row"`
	Column   int    `json:"column"`
	CameraID string `json:"camera_id,omitempty"`
}

// Empty reports whether the slot is a placeholder
func (s Slot) Empty() bool {
	return s.CameraID == ""
}

// Assignment is the result of placing a selection on a layout
type Assignment struct {
	Layout       Layout   `json:"layout"`
	Cameras      []string `json:"cameras"`
	Placeholders int      `json:"placeholders"`
	Slots        []Slot   `json:"slots"`
}

// Assign places the selection on the layout. The displayed cameras are always
// a prefix of the selection: the first Capacity() ids win and the rest are
// left out without error.
func Assign(layout Layout, selection []string) Assignment {
	capacity := layout.Capacity()
	n := len(selection)
	if n > capacity {
		n = capacity
	}

	cameras := make([]string, n)
	copy(cameras, selection[:n])

	cols := layout.Columns()
	slots := make([]Slot, capacity)
	for i := range slots {
		slots[i] = Slot{Index: i, Row: i / cols, Column: i % cols}
		if i < n {
			slots[i].CameraID = cameras[i]
		}
	}

	return Assignment{
		Layout:       layout,
		Cameras:      cameras,
		Placeholders: capacity - n,
		Slots:        slots,
	}
}

// Overflow returns the selected ids that did not fit the layout
func Overflow(layout Layout, selection []string) []string {
	capacity := layout.Capacity()
	if len(selection) <= capacity {
		return nil
	}
	out := make([]string, len(selection)-capacity)
	copy(out, selection[capacity:])
	return out
}
