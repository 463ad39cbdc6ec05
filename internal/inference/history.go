package inference

// History is a bounded FIFO of abnormal-prediction flags plus a counter of
// samples recorded since the last reset. Pushing at capacity evicts the oldest
// flag; the counter keeps growing.
type History struct {
	flags    []bool
	head     int
	size     int
	samples  int
	abnormal int
}

// NewHistory returns an empty history holding at most capacity flags.
// A non-positive capacity is treated as 1.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{flags: make([]bool, capacity)}
}

// Push records one prediction flag.
func (h *History) Push(abnormal bool) {
	capacity := len(h.flags)
	if h.size == capacity {
		if h.flags[h.head] {
			h.abnormal--
		}
		h.flags[h.head] = abnormal
		h.head = (h.head + 1) % capacity
	} else {
		h.flags[(h.head+h.size)%capacity] = abnormal
		h.size++
	}
	if abnormal {
		h.abnormal++
	}
	h.samples++
}

// Reset clears the flags and the sample counter together.
func (h *History) Reset() {
	clear(h.flags)
	h.head = 0
	h.size = 0
	h.samples = 0
	h.abnormal = 0
}

// Len returns the number of flags held.
func (h *History) Len() int { return h.size }

// Cap returns the configured capacity.
func (h *History) Cap() int { return len(h.flags) }

// Samples returns the number of pushes since the last reset.
func (h *History) Samples() int { return h.samples }

// AbnormalCount returns how many held flags are abnormal.
func (h *History) AbnormalCount() int { return h.abnormal }

// Flags returns the held flags, oldest first.
func (h *History) Flags() []bool {
	out := make([]bool, h.size)
	for i := range h.size {
		out[i] = h.flags[(h.head+i)%len(h.flags)]
	}
	return out
}
