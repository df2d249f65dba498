package telemetry

// observerSet maps a registration handle to a callback. It is not locked: the owning Session guards it.
type observerSet[F any] struct {
	nextID  uint64
	entries map[uint64]F
}

func (o *observerSet[F]) add(f F) uint64 {
	if o.entries == nil {
		o.entries = make(map[uint64]F)
	}
	o.nextID++
	o.entries[o.nextID] = f
	return o.nextID
}

func (o *observerSet[F]) remove(id uint64) {
	delete(o.entries, id)
}

func (o *observerSet[F]) list() []F {
	if len(o.entries) == 0 {
		return nil
	}
	list := make([]F, 0, len(o.entries))
	for _, f := range o.entries {
		list = append(list, f)
	}
	return list
}
