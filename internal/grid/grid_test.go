package grid

import (
	"errors"
	"reflect"
	"testing"
)

func TestLayout_Capacity(t *testing.T) {
	tests := []struct {
		layout   Layout
		capacity int
		columns  int
	}{
		{Layout1x1, 1, 1},
		{Layout2x2, 4, 2},
		{Layout3x3, 9, 3},
		{Layout4x4, 16, 4},
		{Layout("5x5"), 0, 0},
	}

	for _, tt := range tests {
		if got := tt.layout.Capacity(); got != tt.capacity {
			t.Errorf("%s: expected capacity %d, got %d", tt.layout, tt.capacity, got)
		}
		if got := tt.layout.Columns(); got != tt.columns {
			t.Errorf("%s: expected columns %d, got %d", tt.layout, tt.columns, got)
		}
	}
}

func TestParseLayout(t *testing.T) {
	for _, l := range Layouts() {
		got, err := ParseLayout(string(l))
		if err != nil {
			t.Errorf("ParseLayout(%q) failed: %v", l, err)
		}
		if got != l {
			t.Errorf("Expected %s, got %s", l, got)
		}
	}

	if _, err := ParseLayout("2x3"); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("Expected ErrUnknownLayout, got %v", err)
	}
}

func TestAssign_TruncatesToCapacity(t *testing.T) {
	selection := []string{"c1", "c2", "c3", "c4", "c5", "c6"}

	a := Assign(Layout2x2, selection)

	if !reflect.DeepEqual(a.Cameras, []string{"c1", "c2", "c3", "c4"}) {
		t.Errorf("Expected first 4 cameras, got %v", a.Cameras)
	}
	if a.Placeholders != 0 {
		t.Errorf("Expected 0 placeholders, got %d", a.Placeholders)
	}
	if len(a.Slots) != 4 {
		t.Fatalf("Expected 4 slots, got %d", len(a.Slots))
	}
	if got := Overflow(Layout2x2, selection); !reflect.DeepEqual(got, []string{"c5", "c6"}) {
		t.Errorf("Expected overflow [c5 c6], got %v", got)
	}
}

func TestAssign_Placeholders(t *testing.T) {
	a := Assign(Layout3x3, []string{"c1", "c2"})

	if !reflect.DeepEqual(a.Cameras, []string{"c1", "c2"}) {
		t.Errorf("Expected [c1 c2], got %v", a.Cameras)
	}
	if a.Placeholders != 7 {
		t.Errorf("Expected 7 placeholders, got %d", a.Placeholders)
	}

	empty := 0
	for _, s := range a.Slots {
		if s.Empty() {
			empty++
		}
	}
	if empty != 7 {
		t.Errorf("Expected 7 empty slots, got %d", empty)
	}

	last := a.Slots[8]
	if last.Row != 2 || last.Column != 2 {
		t.Errorf("Expected last slot at (2,2), got (%d,%d)", last.Row, last.Column)
	}
}

func TestAssign_LayoutChangeKeepsOrder(t *testing.T) {
	selection := []string{"c3", "c1", "c2"}

	small := Assign(Layout1x1, selection)
	large := Assign(Layout4x4, selection)

	if !reflect.DeepEqual(small.Cameras, []string{"c3"}) {
		t.Errorf("Expected [c3], got %v", small.Cameras)
	}
	if !reflect.DeepEqual(large.Cameras, selection) {
		t.Errorf("Expected %v, got %v", selection, large.Cameras)
	}
	if large.Placeholders != 13 {
		t.Errorf("Expected 13 placeholders, got %d", large.Placeholders)
	}
}

func TestAssign_DoesNotAliasSelection(t *testing.T) {
	selection := []string{"c1", "c2"}
	a := Assign(Layout2x2, selection)
	selection[0] = "changed"

	if a.Cameras[0] != "c1" {
		t.Error("Assignment should not share the selection backing array")
	}
}

func TestSelection(t *testing.T) {
	s := NewSelection("c1", "c2", "c1", "")

	if !reflect.DeepEqual(s.IDs(), []string{"c1", "c2"}) {
		t.Errorf("Expected [c1 c2], got %v", s.IDs())
	}

	if !s.Toggle("c3") {
		t.Error("Toggle should select c3")
	}
	if s.Toggle("c1") {
		t.Error("Toggle should deselect c1")
	}
	if !reflect.DeepEqual(s.IDs(), []string{"c2", "c3"}) {
		t.Errorf("Expected [c2 c3], got %v", s.IDs())
	}

	s.Add("c1")
	if !reflect.DeepEqual(s.IDs(), []string{"c2", "c3", "c1"}) {
		t.Errorf("Re-added id should go to the end, got %v", s.IDs())
	}

	s.Remove("missing")
	if s.Len() != 3 {
		t.Errorf("Expected 3 ids, got %d", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Expected empty selection, got %v", s.IDs())
	}
}
