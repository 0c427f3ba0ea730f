package frame

// FramesInFlight is the number of frame slots cycled by the pacer.
const FramesInFlight = 2

// Index identifies one frame slot, always in [0, FramesInFlight).
type Index int

func (i Index) Next() Index {
	return (i + 1) % FramesInFlight
}

func (i Index) Prev() Index {
	return (i + FramesInFlight - 1) % FramesInFlight
}

// PerFrame holds one value per frame slot, indexed by Index.
type PerFrame[T any] [FramesInFlight]T

func (p *PerFrame[T]) Get(index Index) T {
	return p[index]
}

func (p *PerFrame[T]) Set(index Index, value T) {
	p[index] = value
}

// Each calls visit for every slot in index order.
func (p *PerFrame[T]) Each(visit func(index Index, value T)) {
	for i := range p {
		visit(Index(i), p[i])
	}
}
