// Package security implements the openSYDE security-access key exchange
// (spec §4.2 "Security"): a non-secure fixed seed/key pair for level
// checks that don't need real cryptography, and a secure mode that signs
// the server's seed with a private key looked up by certificate serial
// number.
//
// The PEM file parser itself is excluded as an external collaborator
// (spec §1); KeyStore models only the boundary this client needs: a
// serial-number-keyed lookup returning a crypto.Signer.
package security

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
)

// Fixed non-secure seed/key pair (spec §4.2, §4.4 step 4: "Fixed
// non-secure seed/key pair").
const (
	NonSecureSeed byte = 42
	NonSecureKey  byte = 23
)

var ErrKeyNotFound = errors.New("no private key registered for this certificate serial number")

// KeyStore is the serial-number → crypto.Signer lookup boundary that
// replaces a full PEM-file parser (spec §1 "the PEM file parser,
// modelled as a serial-number→key lookup").
type KeyStore interface {
	Lookup(certificateSerial []byte) (crypto.Signer, error)
}

// MapKeyStore is a simple in-memory KeyStore, keyed by the certificate
// serial number rendered as a hex string. Production deployments load it
// once at startup from whatever PEM directory layout the fleet uses;
// that load step is outside this package's scope.
type MapKeyStore struct {
	keys map[string]crypto.Signer
}

func NewMapKeyStore() *MapKeyStore {
	return &MapKeyStore{keys: make(map[string]crypto.Signer)}
}

func (m *MapKeyStore) Register(certificateSerial []byte, signer crypto.Signer) {
	m.keys[serialKey(certificateSerial)] = signer
}

func (m *MapKeyStore) Lookup(certificateSerial []byte) (crypto.Signer, error) {
	signer, ok := m.keys[serialKey(certificateSerial)]
	if !ok {
		return nil, fmt.Errorf("%w: serial %x", ErrKeyNotFound, certificateSerial)
	}
	return signer, nil
}

func serialKey(serial []byte) string {
	return fmt.Sprintf("%x", serial)
}

// ComputeNonSecureKey returns the level's key for a non-secure security
// access: a fixed constant, independent of the seed the server sent
// (spec §4.2: "non-secure fixed seed = 42, fixed key = 23").
func ComputeNonSecureKey(seed []byte) []byte {
	return []byte{NonSecureKey}
}

// Sign computes the secure-mode key: the RSA (or other crypto.Signer)
// signature over the server's seed, using the private key registered for
// certificateSerial (spec §4.2: "key = RSA sign(seed) with a PEM private
// key located by certificate serial number"). A missing key is the
// caller's CHECKSUM result (spec §4.2, §7).
func Sign(store KeyStore, certificateSerial []byte, seed []byte, opts crypto.SignerOpts) ([]byte, error) {
	signer, err := store.Lookup(certificateSerial)
	if err != nil {
		return nil, err
	}
	return signer.Sign(rand.Reader, seed, opts)
}
