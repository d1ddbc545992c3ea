package grid

// FrameHistory is a fixed-capacity ring of processed frames. Adding beyond
// capacity evicts the oldest frame.
type FrameHistory struct {
	frames   []*ProcessedFrame
	capacity int
	head     int // next write position
	size     int
}

// NewFrameHistory creates a frame history with the given capacity.
func NewFrameHistory(capacity int) *FrameHistory {
	if capacity < 1 {
		capacity = 10
	}
	return &FrameHistory{
		frames:   make([]*ProcessedFrame, capacity),
		capacity: capacity,
	}
}

// Add stores a frame, overwriting the oldest if at capacity.
func (fh *FrameHistory) Add(frame *ProcessedFrame) {
	fh.frames[fh.head] = frame
	fh.head = (fh.head + 1) % fh.capacity
	if fh.size < fh.capacity {
		fh.size++
	}
}

// Previous returns the frame n steps back from the most recent.
// Previous(1) is the most recently added frame. Returns nil when out of range.
func (fh *FrameHistory) Previous(n int) *ProcessedFrame {
	if n < 1 || n > fh.size {
		return nil
	}
	idx := (fh.head - n + fh.capacity) % fh.capacity
	return fh.frames[idx]
}

// Size returns the number of frames stored.
func (fh *FrameHistory) Size() int { return fh.size }

// Capacity returns the maximum number of frames stored.
func (fh *FrameHistory) Capacity() int { return fh.capacity }

// Clear removes all frames.
func (fh *FrameHistory) Clear() {
	for i := range fh.frames {
		fh.frames[i] = nil
	}
	fh.head = 0
	fh.size = 0
}

// GetAll returns the stored frames from oldest to newest.
func (fh *FrameHistory) GetAll() []*ProcessedFrame {
	if fh.size == 0 {
		return nil
	}
	result := make([]*ProcessedFrame, fh.size)
	for i := 0; i < fh.size; i++ {
		idx := (fh.head - fh.size + i + fh.capacity) % fh.capacity
		result[i] = fh.frames[idx]
	}
	return result
}

// DisturbanceLog is a bounded FIFO of emitted-or-validated disturbances.
type DisturbanceLog struct {
	entries  []GridDisturbance
	capacity int
}

// NewDisturbanceLog creates a log holding at most capacity entries.
func NewDisturbanceLog(capacity int) *DisturbanceLog {
	if capacity < 1 {
		capacity = 100
	}
	return &DisturbanceLog{capacity: capacity}
}

// Append adds disturbances, evicting the oldest beyond capacity.
func (l *DisturbanceLog) Append(ds ...GridDisturbance) {
	l.entries = append(l.entries, ds...)
	if over := len(l.entries) - l.capacity; over > 0 {
		kept := make([]GridDisturbance, l.capacity)
		copy(kept, l.entries[over:])
		l.entries = kept
	}
}

// Len returns the number of stored disturbances.
func (l *DisturbanceLog) Len() int { return len(l.entries) }

// Capacity returns the maximum number of stored disturbances.
func (l *DisturbanceLog) Capacity() int { return l.capacity }

// All returns a copy of the stored disturbances, oldest first.
func (l *DisturbanceLog) All() []GridDisturbance {
	out := make([]GridDisturbance, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes all entries.
func (l *DisturbanceLog) Clear() { l.entries = nil }

// DetectionContext is the bounded rolling history a detector keeps between frames.
type DetectionContext struct {
	Frames       *FrameHistory
	Disturbances *DisturbanceLog
}

// NewDetectionContext allocates both buffers.
func NewDetectionContext(frameCap, disturbanceCap int) *DetectionContext {
	return &DetectionContext{
		Frames:       NewFrameHistory(frameCap),
		Disturbances: NewDisturbanceLog(disturbanceCap),
	}
}

// Reset empties both buffers.
func (c *DetectionContext) Reset() {
	c.Frames.Clear()
	c.Disturbances.Clear()
}
