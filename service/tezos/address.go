package tezos

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// AddressKind is the human-readable prefix of a Tezos address.
type AddressKind string

const (
	KindTz1 AddressKind = "tz1"
	KindTz2 AddressKind = "tz2"
	KindTz3 AddressKind = "tz3"
	KindKT1 AddressKind = "KT1"
)

const (
	addressHashLen = 20
	checksumLen    = 4
)

var addressPrefixes = map[AddressKind][]byte{
	KindTz1: {6, 161, 159},
	KindTz2: {6, 161, 161},
	KindTz3: {6, 161, 164},
	KindKT1: {2, 90, 121},
}

var (
	ErrInvalidAddress  = errors.New("invalid tezos address")
	ErrInvalidChecksum = errors.New("invalid tezos address checksum")
)

// ValidateAddress checks that s is a base58check-encoded implicit (tz1/tz2/tz3)
// or originated (KT1) address.
func ValidateAddress(s string) error {
	if len(s) != 36 {
		return fmt.Errorf("%w: expected 36 characters, got %d", ErrInvalidAddress, len(s))
	}
	kind := AddressKind(s[:3])
	prefix, ok := addressPrefixes[kind]
	if !ok {
		return fmt.Errorf("%w: unknown prefix %q", ErrInvalidAddress, s[:3])
	}

	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != len(prefix)+addressHashLen+checksumLen {
		return fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(decoded))
	}
	if !bytes.Equal(decoded[:len(prefix)], prefix) {
		return fmt.Errorf("%w: prefix bytes do not match %s", ErrInvalidAddress, kind)
	}

	payload := decoded[:len(decoded)-checksumLen]
	if !bytes.Equal(checksum(payload), decoded[len(decoded)-checksumLen:]) {
		return ErrInvalidChecksum
	}
	return nil
}

// IsContract reports whether the address is an originated contract.
func IsContract(address string) bool {
	return strings.HasPrefix(address, string(KindKT1))
}

// EncodeAddress base58check-encodes a 20 byte public key hash (or contract
// hash) with the prefix for kind.
func EncodeAddress(kind AddressKind, hash []byte) (string, error) {
	prefix, ok := addressPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown prefix %q", ErrInvalidAddress, kind)
	}
	if len(hash) != addressHashLen {
		return "", fmt.Errorf("%w: hash must be %d bytes, got %d", ErrInvalidAddress, addressHashLen, len(hash))
	}
	payload := make([]byte, 0, len(prefix)+addressHashLen+checksumLen)
	payload = append(payload, prefix...)
	payload = append(payload, hash...)
	payload = append(payload, checksum(payload)...)
	return base58.Encode(payload), nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
