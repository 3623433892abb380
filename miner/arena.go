package miner

// ScratchArena One contiguous allocation sliced into per worker scratch and blob buffers.
// Reused across jobs, only growing when a job needs more workers or memory.
type ScratchArena struct {
	buf []byte

	workers     int
	scratchSize int
	blobSize    int
}

func (a *ScratchArena) stride() int {
	return a.scratchSize + a.blobSize
}

// Reset Prepares the arena for workers slices of scratchSize + blobSize bytes each
func (a *ScratchArena) Reset(workers, scratchSize, blobSize int) {
	a.workers, a.scratchSize, a.blobSize = workers, scratchSize, blobSize
	if n := workers * a.stride(); cap(a.buf) < n {
		a.buf = make([]byte, n)
	} else {
		a.buf = a.buf[:n]
	}
}

// Scratch Exclusive scratch slice of worker i
func (a *ScratchArena) Scratch(i int) []byte {
	offset := i * a.stride()
	return a.buf[offset : offset+a.scratchSize : offset+a.scratchSize]
}

// Blob Exclusive blob slice of worker i
func (a *ScratchArena) Blob(i int) []byte {
	offset := i*a.stride() + a.scratchSize
	return a.buf[offset : offset+a.blobSize : offset+a.blobSize]
}

func (a *ScratchArena) Workers() int {
	return a.workers
}
