// Package fifo implements a circular byte buffer that streams bytes out
// of an in-memory buffer in caller-chosen chunk sizes while optionally
// folding a running checksum over what passes through. No other package
// in this module imports it.
//
// Adapted from the teacher's internal/fifo (used by its SDO client for
// segmented/block transfer); the alternate read-position bookkeeping
// (AltBegin/AltRead/AltFinish) that let the teacher re-send an
// unacknowledged sub-block without losing its place is kept.
package fifo

import "github.com/openflashdrv/flashdrv/internal/crc"

type Fifo struct {
	buffer     []byte
	writePos   int
	readPos    int
	altReadPos int
}

func New(size int) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
	f.altReadPos = 0
}

func (f *Fifo) Space() int {
	left := f.readPos - f.writePos - 1
	if left < 0 {
		left += len(f.buffer)
	}
	return left
}

func (f *Fifo) Occupied() int {
	occ := f.writePos - f.readPos
	if occ < 0 {
		occ += len(f.buffer)
	}
	return occ
}

// Write copies as much of buf into the fifo as there is space for,
// returning the number of bytes actually written. If c is non-nil, every
// written byte is folded into it.
func (f *Fifo) Write(buf []byte, c *crc.CRC16) int {
	n := 0
	for _, b := range buf {
		next := f.writePos + 1
		if next == f.readPos || (next == len(f.buffer) && f.readPos == 0) {
			break
		}
		f.buffer[f.writePos] = b
		n++
		if c != nil {
			c.Single(b)
		}
		if next == len(f.buffer) {
			f.writePos = 0
		} else {
			f.writePos = next
		}
	}
	return n
}

// Read copies up to len(buf) bytes out of the fifo, returning the number
// actually read.
func (f *Fifo) Read(buf []byte) int {
	n := 0
	for i := range buf {
		if f.readPos == f.writePos {
			break
		}
		buf[i] = f.buffer[f.readPos]
		n++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return n
}

// AltBegin starts a shadow read cursor offset bytes ahead of the real
// read cursor, without consuming anything yet. Used to re-scan data
// already in the buffer (e.g. resend a sub-block) before committing to
// having read it.
func (f *Fifo) AltBegin(offset int) int {
	f.altReadPos = f.readPos
	i := offset
	for ; i > 0; i-- {
		if f.altReadPos == f.writePos {
			break
		}
		f.altReadPos++
		if f.altReadPos == len(f.buffer) {
			f.altReadPos = 0
		}
	}
	return offset - i
}

// AltRead reads from the shadow cursor, leaving the real read cursor
// untouched.
func (f *Fifo) AltRead(buf []byte) int {
	n := 0
	for i := range buf {
		if f.altReadPos == f.writePos {
			break
		}
		buf[i] = f.buffer[f.altReadPos]
		n++
		f.altReadPos++
		if f.altReadPos == len(f.buffer) {
			f.altReadPos = 0
		}
	}
	return n
}

// AltFinish commits the shadow cursor as the real read cursor, optionally
// folding everything consumed along the way into c.
func (f *Fifo) AltFinish(c *crc.CRC16) {
	if c == nil {
		f.readPos = f.altReadPos
		return
	}
	for f.readPos != f.altReadPos {
		c.Single(f.buffer[f.readPos])
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
}

func (f *Fifo) AltOccupied() int {
	occ := f.writePos - f.altReadPos
	if occ < 0 {
		occ += len(f.buffer)
	}
	return occ
}
