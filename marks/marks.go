package marks

// Serial and mark bookkeeping for a single export run.
//
// Serials are handed out while snapshots are generated; marks are handed
// out at emission time. The stream only ever references marks, so the
// allocator keeps the serial->mark translation table. Slot 0 is reserved:
// an unassigned entry reads as 0 and a mark of 0 must never reach the
// output stream.

import (
	"errors"
	"math"
)

// Serial - dense 1-origin index over exportable objects (blobs and commits).
type Serial = uint32

// Mark - positive integer referenced in the output stream as :N.
type Mark = uint32

var ErrOverflow = errors.New("snapshot sequence number too large, widen Serial")

// Allocator hands out strictly increasing serials and marks and records
// the serial->mark mapping. Not safe for concurrent use; the export run
// is single-writer.
type Allocator struct {
	seqno   Serial
	mark    Mark
	markmap []Mark // indexed by serial, slot 0 reserved
}

func NewAllocator(capacityHint int) *Allocator {
	return &Allocator{markmap: make([]Mark, capacityHint+1)}
}

// NextSerial returns the next sequence number, starting with 1.
func (a *Allocator) NextSerial() (Serial, error) {
	if a.seqno == math.MaxUint32 {
		return 0, ErrOverflow
	}
	a.seqno++
	return a.seqno, nil
}

// NextMark returns the next mark number, starting with 1.
func (a *Allocator) NextMark() (Mark, error) {
	if a.mark == math.MaxUint32 {
		return 0, ErrOverflow
	}
	a.mark++
	return a.mark, nil
}

// AssignMark allocates the next mark and records it against serial s.
func (a *Allocator) AssignMark(s Serial) (Mark, error) {
	m, err := a.NextMark()
	if err != nil {
		return 0, err
	}
	for int(s) >= len(a.markmap) {
		a.markmap = append(a.markmap, 0)
	}
	a.markmap[s] = m
	return m, nil
}

// Lookup returns the mark assigned to serial s, or 0 if none has been.
func (a *Allocator) Lookup(s Serial) Mark {
	if int(s) >= len(a.markmap) {
		return 0
	}
	return a.markmap[s]
}

// Marks returns how many marks have been handed out so far.
func (a *Allocator) Marks() Mark {
	return a.mark
}

// Serials returns how many serials have been handed out so far.
func (a *Allocator) Serials() Serial {
	return a.seqno
}
