// Package crc implements the two checksum flavors the flash-programming
// host needs: a CCITT CRC-16 (STW Flashloader hex-line and fingerprint
// checksums) and an IEEE CRC-32 (openSYDE file-based transfer-exit).
//
// Adapted from the teacher's internal/crc package: same running-checksum
// shape (a named integer type with a Single(byte) method callers fold
// into a read/write loop), generalized to carry both widths this host
// needs instead of just CCITT-16.
package crc

import "hash/crc32"

// CRC16 is a running CCITT CRC-16 (poly 0x1021, init 0).
type CRC16 uint16

// Single folds one byte into the running CRC.
func (c *CRC16) Single(b byte) {
	*c = ccittSingle(*c, b)
}

// Block folds a byte slice into the running CRC.
func (c *CRC16) Block(data []byte) {
	for _, b := range data {
		c.Single(b)
	}
}

func ccittSingle(crc CRC16, b byte) CRC16 {
	crc ^= CRC16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC32 computes an IEEE CRC-32 over an in-memory buffer in one shot,
// matching the value the openSYDE transfer-exit (file-based) service
// places in the first four bytes of its signature (spec §8 round-trip
// property).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// HexChecksum is the plain byte-sum the STW Flashloader hex sequencer
// computes over the raw data bytes of a hex file before any wakeup or
// write occurs (spec §4.1 step 2). It deliberately is not a CRC: the
// legacy bootloader protocol defines it as a naive additive sum.
func HexChecksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
