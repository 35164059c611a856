package live

import "sort"

// mux maps camera ids to reference-counted channels. Like channel, it is
// owned by the session loop.
type mux struct {
	channels map[string]*channel
}

func newMux() *mux {
	return &mux{channels: make(map[string]*channel)}
}

func (m *mux) get(cameraID string) *channel {
	return m.channels[cameraID]
}

// acquire adds a reference and reports whether the channel must be opened
func (m *mux) acquire(cameraID string) (*channel, bool) {
	if ch, ok := m.channels[cameraID]; ok {
		ch.refs++
		return ch, false
	}
	ch := newChannel(cameraID)
	ch.refs = 1
	m.channels[cameraID] = ch
	return ch, true
}

// release drops a reference. It returns the channel and whether that was the
// last reference, in which case the channel has been removed. Unknown ids
// return nil.
func (m *mux) release(cameraID string) (*channel, bool) {
	ch, ok := m.channels[cameraID]
	if !ok || ch.refs <= 0 {
		return nil, false
	}
	ch.refs--
	if ch.refs > 0 {
		return ch, false
	}
	delete(m.channels, cameraID)
	return ch, true
}

func (m *mux) len() int {
	return len(m.channels)
}

// list returns channels in camera id order
func (m *mux) list() []*channel {
	out := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cameraID < out[j].cameraID })
	return out
}

func (m *mux) countByState() map[string]int {
	counts := map[string]int{
		string(StateDisconnected): 0,
		string(StateConnecting):   0,
		string(StateConnected):    0,
		string(StateError):        0,
	}
	for _, ch := range m.channels {
		counts[string(ch.state)]++
	}
	return counts
}
