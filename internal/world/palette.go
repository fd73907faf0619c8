package world

// paletteStorage keeps a chunk's cells as bit-packed indices into a palette of
// distinct (BlockID, Variant) keys. Entries are reference counted and their
// slots reused once unused; index width grows as the palette grows.
type paletteStorage struct {
	cells   int
	bits    uint
	data    []uint64
	entries []uint32
	refs    []int
	index   map[uint32]int
	free    []int
}

func newPaletteStorage(cells int) *paletteStorage {
	return &paletteStorage{
		cells:   cells,
		entries: []uint32{0},
		refs:    []int{cells},
		index:   map[uint32]int{0: 0},
	}
}

func (p *paletteStorage) perWord() int {
	return 64 / int(p.bits)
}

func (p *paletteStorage) readIndex(i int) int {
	if p.bits == 0 {
		return 0
	}
	per := p.perWord()
	shift := uint(i%per) * p.bits
	mask := uint64(1)<<p.bits - 1
	return int((p.data[i/per] >> shift) & mask)
}

func (p *paletteStorage) writeIndex(i, idx int) {
	if p.bits == 0 {
		return
	}
	per := p.perWord()
	shift := uint(i%per) * p.bits
	mask := uint64(1)<<p.bits - 1
	w := &p.data[i/per]
	*w = (*w &^ (mask << shift)) | (uint64(idx) << shift)
}

func (p *paletteStorage) get(i int) uint32 {
	return p.entries[p.readIndex(i)]
}

// set stores key at cell i and returns the previous key.
func (p *paletteStorage) set(i int, key uint32) uint32 {
	oldIdx := p.readIndex(i)
	old := p.entries[oldIdx]
	if old == key {
		return old
	}

	newIdx, ok := p.index[key]
	if !ok {
		newIdx = p.alloc(key)
	}

	p.refs[oldIdx]--
	if p.refs[oldIdx] == 0 {
		delete(p.index, old)
		p.free = append(p.free, oldIdx)
	}
	p.refs[newIdx]++
	p.writeIndex(i, newIdx)
	return old
}

func (p *paletteStorage) alloc(key uint32) int {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		p.entries[idx] = key
		p.refs[idx] = 0
		p.index[key] = idx
		return idx
	}

	idx := len(p.entries)
	p.entries = append(p.entries, key)
	p.refs = append(p.refs, 0)
	p.index[key] = idx
	if len(p.entries) > 1<<p.bits {
		p.grow()
	}
	return idx
}

func (p *paletteStorage) grow() {
	newBits := p.bits + 1
	for len(p.entries) > 1<<newBits {
		newBits++
	}

	old := *p
	p.bits = newBits
	per := p.perWord()
	p.data = make([]uint64, (p.cells+per-1)/per)
	for i := 0; i < p.cells; i++ {
		p.writeIndex(i, old.readIndex(i))
	}
}

// distinct returns the number of live palette entries.
func (p *paletteStorage) distinct() int {
	return len(p.index)
}

// memoryBytes approximates the storage footprint.
func (p *paletteStorage) memoryBytes() int {
	return len(p.data)*8 + len(p.entries)*4 + len(p.refs)*8
}
