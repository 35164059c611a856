package grid

// Selection is an ordered set of camera ids. Ids keep the position at which
// they were first selected.
type Selection struct {
	ids []string
}

// NewSelection creates a selection, dropping duplicates and empty ids
func NewSelection(ids ...string) *Selection {
	s := &Selection{}
	s.Add(ids...)
	return s
}

// Add appends ids that are not selected yet
func (s *Selection) Add(ids ...string) {
	for _, id := range ids {
		if id == "" || s.Contains(id) {
			continue
		}
		s.ids = append(s.ids, id)
	}
}

// Remove drops ids from the selection, keeping the order of the rest
func (s *Selection) Remove(ids ...string) {
	for _, id := range ids {
		for i, existing := range s.ids {
			if existing == id {
				s.ids = append(s.ids[:i], s.ids[i+1:]...)
				break
			}
		}
	}
}

// Toggle selects an unselected id or deselects a selected one.
// It returns true if the id is selected afterwards.
func (s *Selection) Toggle(id string) bool {
	if s.Contains(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return s.Contains(id)
}

// Contains reports whether id is selected
func (s *Selection) Contains(id string) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Len returns the number of selected ids
func (s *Selection) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the selected ids in selection order
func (s *Selection) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Clear removes every id
func (s *Selection) Clear() {
	s.ids = nil
}
