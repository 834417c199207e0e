package model

import (
	"encoding/hex"
	"errors"
)

var ErrInvalidCompanyID = errors.New("company id must be 2, 3 or 5 bytes")

// CompanyID is the vendor gate carried in an STW Flashloader wake-up
// handshake (spec §3, GLOSSARY). It is 2, 3 or 5 raw bytes; any other
// length is invalid.
type CompanyID struct {
	bytes []byte
}

func NewCompanyID(raw []byte) (CompanyID, error) {
	switch len(raw) {
	case 2, 3, 5:
		return CompanyID{bytes: append([]byte(nil), raw...)}, nil
	default:
		return CompanyID{}, ErrInvalidCompanyID
	}
}

// ParseCompanyID parses a hex string ("AA:BB" style separators are not
// accepted, a bare hex string is) into a CompanyID.
func ParseCompanyID(s string) (CompanyID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return CompanyID{}, err
	}
	return NewCompanyID(raw)
}

func (c CompanyID) Bytes() []byte { return append([]byte(nil), c.bytes...) }

func (c CompanyID) String() string { return hex.EncodeToString(c.bytes) }

func (c CompanyID) Equal(other CompanyID) bool {
	if len(c.bytes) != len(other.bytes) {
		return false
	}
	for i := range c.bytes {
		if c.bytes[i] != other.bytes[i] {
			return false
		}
	}
	return true
}
