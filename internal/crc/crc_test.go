package crc

import "testing"

func TestCRC16BlockMatchesSingle(t *testing.T) {
	data := []byte("123456789")

	var viaBlock CRC16
	viaBlock.Block(data)

	var viaSingle CRC16
	for _, b := range data {
		viaSingle.Single(b)
	}

	if viaBlock != viaSingle {
		t.Fatalf("Block result %#04x != byte-by-byte Single result %#04x", viaBlock, viaSingle)
	}
}

func TestCRC16ResetBetweenRuns(t *testing.T) {
	var c CRC16
	c.Block([]byte{0x01, 0x02, 0x03})
	first := c

	var fresh CRC16
	fresh.Block([]byte{0x01, 0x02, 0x03})

	if first != fresh {
		t.Fatalf("two independent runs over the same data diverged: %#04x vs %#04x", first, fresh)
	}
}

func TestCRC32KnownVector(t *testing.T) {
	got := CRC32([]byte("123456789"))
	const want = 0xCBF43926 // standard CRC-32/IEEE check value
	if got != want {
		t.Fatalf("CRC32(\"123456789\") = %#08x, want %#08x", got, want)
	}
}

func TestHexChecksumIsAdditive(t *testing.T) {
	got := HexChecksum([]byte{0x01, 0x02, 0x03, 0xFF})
	want := uint32(0x01 + 0x02 + 0x03 + 0xFF)
	if got != want {
		t.Fatalf("HexChecksum = %d, want %d", got, want)
	}
}

func TestHexChecksumEmpty(t *testing.T) {
	if got := HexChecksum(nil); got != 0 {
		t.Fatalf("HexChecksum(nil) = %d, want 0", got)
	}
}
