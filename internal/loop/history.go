package loop

// History is the bounded window of recently processed utterances used to
// avoid handling the same utterance twice. The zero value holds nothing.
type History struct {
	size  int
	items []string
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, items: make([]string, 0, size)}
}

func (h *History) Contains(utterance string) bool {
	for _, it := range h.items {
		if it == utterance {
			return true
		}
	}
	return false
}

// Push records utterance, evicting the oldest entry when full.
func (h *History) Push(utterance string) {
	if h.size <= 0 {
		return
	}
	if len(h.items) == h.size {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.size-1]
	}
	h.items = append(h.items, utterance)
}

func (h *History) Reset() { h.items = h.items[:0] }

func (h *History) Len() int { return len(h.items) }
