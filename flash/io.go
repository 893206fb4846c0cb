package flash

// Op identifies the kind of flash I/O an engine step requested.
type Op int

const (
	// OpRead reads Length bytes from (Page, Offset).
	OpRead Op = iota
	// OpWrite programs Data at (Page, Offset).
	OpWrite
	// OpErase erases Page.
	OpErase
)

// IORequest describes a single flash operation requested by an engine
// step function. It exists only between the moment the engine requests
// the I/O and the moment the driver satisfies it.
type IORequest struct {
	Op     Op
	Page   int
	Offset int
	// Data is the payload for OpWrite.
	Data []byte
	// Length is the number of bytes to read for OpRead.
	Length int
}

// IOResult carries the outcome of an IORequest back into the engine
// step function.
type IOResult struct {
	// Data holds the bytes read for OpRead.
	Data []byte
	Err  error
}
