package buffer

// SliceKind tells whether a Slice aliases the store or owns a copy.
type SliceKind int

const (
	// Contiguous slices are views into the store. They stay valid only until the
	// transaction ends and must be checked against Flags after use.
	Contiguous SliceKind = iota
	// Copied slices own their bytes.
	Copied
)

func (k SliceKind) String() string {
	if k == Contiguous {
		return "contiguous"
	}
	return "copied"
}

// Slice is the readable part of one beam's window for one subband.
type Slice struct {
	Kind SliceKind

	// Data holds Samples consecutive samples, SampleSize bytes each.
	Data    []byte
	Samples int

	// Offset is the distance, in samples, from the requested begin to Data[0].
	Offset int

	// Shift is the first sample's slot modulo Alignment.
	Shift int
}

// Gap is a run of samples, relative to a beam's requested begin, that must not be trusted.
type Gap struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}
