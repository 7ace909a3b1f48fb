package rooms

import "tinysync/internal/protocol"

// History keeps the most recent broadcast frames in a fixed-size ring.
// A capacity of zero or less keeps nothing.
type History struct {
	frames []protocol.FramePackage
	start  int
	count  int
}

func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{frames: make([]protocol.FramePackage, capacity)}
}

func (h *History) Push(pkg protocol.FramePackage) {
	if len(h.frames) == 0 {
		return
	}
	if h.count < len(h.frames) {
		h.frames[(h.start+h.count)%len(h.frames)] = pkg
		h.count++
		return
	}
	h.frames[h.start] = pkg
	h.start = (h.start + 1) % len(h.frames)
}

func (h *History) Len() int {
	return h.count
}

// Range returns the retained frames numbered from..to inclusive, oldest
// first.
func (h *History) Range(from, to uint32) []protocol.FramePackage {
	if from > to {
		return nil
	}
	var out []protocol.FramePackage
	for i := 0; i < h.count; i++ {
		pkg := h.frames[(h.start+i)%len(h.frames)]
		if pkg.Frame >= from && pkg.Frame <= to {
			out = append(out, pkg)
		}
	}
	return out
}

func (h *History) Clear() {
	clear(h.frames)
	h.start = 0
	h.count = 0
}
