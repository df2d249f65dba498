package telemetry

// history is a fixed-size ring of the most recent payloads.
type history struct {
	items []Payload
	next  int
	count int
}

func newHistory(size int) *history {
	if size <= 0 {
		return nil
	}
	return &history{items: make([]Payload, size)}
}

func (h *history) add(p Payload) {
	h.items[h.next] = p
	h.next = (h.next + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// newestFirst returns a copy of the stored payloads, most recent first.
func (h *history) newestFirst() []Payload {
	if h == nil || h.count == 0 {
		return nil
	}
	out := make([]Payload, h.count)
	idx := h.next
	for i := range h.count {
		idx = (idx - 1 + len(h.items)) % len(h.items)
		out[i] = h.items[idx]
	}
	return out
}

func (h *history) reset() {
	if h == nil {
		return
	}
	clear(h.items)
	h.next, h.count = 0, 0
}
