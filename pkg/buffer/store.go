package buffer

// sampleStore holds Capacity samples for each subband in one flat byte slice per subband.
//
// It has no synchronization of its own. The writer owns the slots it was admitted for by
// the flow controller; readers learn afterwards from the validity tracker whether what they
// copied is intact.
type sampleStore struct {
	index        TimeIndex
	packetLength int
	subbands     [][]byte
}

func newSampleStore(index TimeIndex, subbandCount, packetLength int) *sampleStore {
	size := int(index.Capacity()) * SampleSize
	backing := make([]byte, size*subbandCount)

	s := &sampleStore{
		index:        index,
		packetLength: packetLength,
		subbands:     make([][]byte, subbandCount),
	}
	for sb := range s.subbands {
		s.subbands[sb] = backing[sb*size : (sb+1)*size : (sb+1)*size]
	}
	return s
}

// writePacket scatters a subband-major payload into the store starting at slot. A packet
// that crosses the end of the store is split into two copies.
func (s *sampleStore) writePacket(slot int, payload []byte) {
	n := s.packetLength * SampleSize
	capacity := int(s.index.Capacity())
	first := min(s.packetLength, capacity-slot) * SampleSize

	for sb, dst := range s.subbands {
		src := payload[sb*n : (sb+1)*n]
		copy(dst[slot*SampleSize:], src[:first])
		if first < n {
			copy(dst, src[first:])
		}
	}
}

// view returns the bytes of n samples starting at slot without copying, or false when the
// run crosses the end of the store.
func (s *sampleStore) view(subband, slot, n int) ([]byte, bool) {
	if slot+n > int(s.index.Capacity()) {
		return nil, false
	}
	lo, hi := slot*SampleSize, (slot+n)*SampleSize
	return s.subbands[subband][lo:hi:hi], true
}

// copyOut copies n samples starting at slot into dst, unwrapping the circular layout.
// dst is grown when too small and the filled prefix is returned.
func (s *sampleStore) copyOut(subband, slot, n int, dst []byte) []byte {
	size := n * SampleSize
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	src := s.subbands[subband]
	first := min(n, int(s.index.Capacity())-slot) * SampleSize
	copy(dst, src[slot*SampleSize:slot*SampleSize+first])
	if first < size {
		copy(dst[first:], src[:size-first])
	}
	return dst
}
