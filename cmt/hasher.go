package cmt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"

	"github.com/zeebo/blake3"
)

// HashSize is the width of every subtree commitment.
const HashSize = 32

// EmptyHash is the sentinel commitment of the empty subtree.
var EmptyHash = make([]byte, HashSize)

// HasherId names a hash function. Trees persist the id, never a function
// value, and resolve it through the dispatch table on every call, so a
// stored tree survives restarts and redeployments of the host program.
type HasherId uint8

const (
	HasherNone       HasherId = 0
	HasherSHA256     HasherId = 1
	HasherBlake3     HasherId = 2
	HasherSHA512_256 HasherId = 3
)

// Hasher computes the commitment of an internal node from its key and the
// commitments of its two children. Implementations must be pure and
// deterministic.
type Hasher interface {
	Hash3(key, left, right []byte) []byte
}

var hasherTable = map[HasherId]Hasher{
	HasherSHA256:     sha256Hasher{},
	HasherBlake3:     blake3Hasher{},
	HasherSHA512_256: sha512256Hasher{},
}

func resolveHasher(id HasherId) (Hasher, error) {
	h, ok := hasherTable[id]
	if !ok {
		return nil, NewUnknownHasherError(id)
	}
	return h, nil
}

// hashEqual compares two commitments in constant time.
func hashEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// All inputs have a fixed width per tree (the key width and HashSize), so
// plain concatenation is collision resistant.

type sha256Hasher struct{}

func (sha256Hasher) Hash3(key, left, right []byte) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

type blake3Hasher struct{}

func (blake3Hasher) Hash3(key, left, right []byte) []byte {
	h := blake3.New()
	h.Write(key)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)[:HashSize]
}

type sha512256Hasher struct{}

func (sha512256Hasher) Hash3(key, left, right []byte) []byte {
	h := sha512.New512_256()
	h.Write(key)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
