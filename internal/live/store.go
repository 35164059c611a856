package live

import (
	"sort"
	"sync"
	"time"

	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// Snapshot is the latest known frame of a camera. Detections must be
// treated as read-only.
type Snapshot struct {
	CameraID     string           `json:"camera_id"`
	CameraName   string           `json:"camera_name,omitempty"`
	Epoch        int64            `json:"session_epoch,omitempty"`
	FrameNumber  int64            `json:"frame_number"`
	Timestamp    time.Time        `json:"timestamp"`
	Detections   []wire.Detection `json:"detections"`
	TotalPersons int              `json:"total_persons"`
	ReceivedAt   time.Time        `json:"received_at"`
}

// ChangeKind describes what changed for a camera
type ChangeKind string

const (
	ChangeFrame        ChangeKind = "frame"
	ChangeStreamStatus ChangeKind = "stream_status"
	ChangeConnection   ChangeKind = "connection"
	ChangePurged       ChangeKind = "purged"
)

// Change notifies watchers that a camera's live state changed
type Change struct {
	CameraID string     `json:"camera_id"`
	Kind     ChangeKind `json:"kind"`
}

// Store holds the latest snapshot, stream status and channel state of every
// subscribed camera. Only the session loop writes to it; reads are safe from
// any goroutine.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	statuses  map[string]wire.StreamStatus
	channels  map[string]ChannelInfo

	watchMu  sync.RWMutex
	watchers map[chan Change]struct{}
	buffer   int
}

// NewStore creates an empty store; buffer is the capacity of watcher channels
func NewStore(buffer int) *Store {
	if buffer <= 0 {
		buffer = 64
	}
	return &Store{
		snapshots: make(map[string]Snapshot),
		statuses:  make(map[string]wire.StreamStatus),
		channels:  make(map[string]ChannelInfo),
		watchers:  make(map[chan Change]struct{}),
		buffer:    buffer,
	}
}

// newer reports whether (epoch, frame) supersedes the snapshot. A zero epoch
// on either side falls back to comparing frame numbers only.
func newer(current Snapshot, epoch, frame int64) bool {
	if epoch != 0 && current.Epoch != 0 && epoch != current.Epoch {
		return epoch > current.Epoch
	}
	return frame > current.FrameNumber
}

// apply replaces the camera's snapshot if the update is newer.
// It returns false for stale or duplicate updates.
func (s *Store) apply(u wire.FrameUpdate, now time.Time) bool {
	s.mu.Lock()
	current, ok := s.snapshots[u.CameraID]
	if ok && !newer(current, u.SessionEpoch, u.FrameNumber) {
		s.mu.Unlock()
		return false
	}
	s.snapshots[u.CameraID] = Snapshot{
		CameraID:     u.CameraID,
		CameraName:   u.CameraName,
		Epoch:        u.SessionEpoch,
		FrameNumber:  u.FrameNumber,
		Timestamp:    u.Timestamp,
		Detections:   u.Detections,
		TotalPersons: u.TotalPersons,
		ReceivedAt:   now,
	}
	s.mu.Unlock()

	s.notify(Change{CameraID: u.CameraID, Kind: ChangeFrame})
	return true
}

func (s *Store) setStatus(st wire.StreamStatus) {
	s.mu.Lock()
	s.statuses[st.CameraID] = st
	s.mu.Unlock()
	s.notify(Change{CameraID: st.CameraID, Kind: ChangeStreamStatus})
}

func (s *Store) setChannel(info ChannelInfo) {
	s.mu.Lock()
	prev, ok := s.channels[info.CameraID]
	s.channels[info.CameraID] = info
	s.mu.Unlock()
	if !ok || prev != info {
		s.notify(Change{CameraID: info.CameraID, Kind: ChangeConnection})
	}
}

// purge drops everything known about a camera
func (s *Store) purge(cameraID string) {
	s.mu.Lock()
	delete(s.snapshots, cameraID)
	delete(s.statuses, cameraID)
	delete(s.channels, cameraID)
	s.mu.Unlock()
	s.notify(Change{CameraID: cameraID, Kind: ChangePurged})
}

func (s *Store) purgeAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.purge(id)
	}
}

// Snapshot returns the latest snapshot of a camera
func (s *Store) Snapshot(cameraID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[cameraID]
	return snap, ok
}

// StreamStatus returns the last stream status event of a camera
func (s *Store) StreamStatus(cameraID string) (wire.StreamStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[cameraID]
	return st, ok
}

// Cameras returns the ids of cameras that have a snapshot
func (s *Store) Cameras() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Channel returns the channel state of a subscribed camera
func (s *Store) Channel(cameraID string) (ChannelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.channels[cameraID]
	return info, ok
}

// Channels returns all channel states sorted by camera id
func (s *Store) Channels() []ChannelInfo {
	s.mu.RLock()
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, info := range s.channels {
		out = append(out, info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Watch returns a channel receiving change notifications. Notifications are
// dropped for watchers that fall behind.
func (s *Store) Watch() chan Change {
	ch := make(chan Change, s.buffer)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	return ch
}

// Unwatch removes and closes a watcher
func (s *Store) Unwatch(ch chan Change) {
	s.watchMu.Lock()
	_, ok := s.watchers[ch]
	delete(s.watchers, ch)
	s.watchMu.Unlock()
	if ok {
		close(ch)
	}
}

func (s *Store) notify(c Change) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
