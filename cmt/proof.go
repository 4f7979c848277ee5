package cmt

import (
	"encoding/binary"

	"github.com/dl-solarity/cartesian-merkle-go/logger"
)

// Proof is evidence that a key is present (Existence true) or absent
// (Existence false) under Root. The Siblings array is laid out leaf to
// root: entries 0 and 1 are the two child hashes of the terminal node, and
// every following pair holds an ancestor's key (left-padded to HashSize
// bytes) and the hash of the subtree the search did not enter. Bit j of
// DirectionBits covers pair j and is set when the node below the ancestor
// is its right child; bit 0 is always clear.
//
// Exclusion proofs anchor on NonExistenceKey, the key of the node whose
// empty child slot terminated the search for Key. Pairs of two sentinel
// hashes are padding, inserted to hide the true tree depth; they are
// counted in the length but never folded.
type Proof struct {
	_struct         struct{} `codec:",toarray"` //nolint
	Root            []byte   `codec:"r"`
	Key             Key      `codec:"k"`
	Existence       bool     `codec:"e"`
	NonExistenceKey Key      `codec:"n"`
	Siblings        [][]byte `codec:"s"`
	DirectionBits   []byte   `codec:"d"`
}

type ancestorStep struct {
	key     Key
	sibling []byte
	right   bool
}

// GetProof builds an inclusion or exclusion proof for key against the
// current root. The siblings array is padded with sentinel pairs until it
// holds at least minLength entries. Asking for a proof on the empty tree is
// a KeyNotFoundError: there is no terminal node to anchor an exclusion on.
func (t *Tree) GetProof(ctx logger.ContextInterface, tr Transaction, key Key, minLength uint32) (*Proof, error) {
	t.RLock()
	defer t.RUnlock()

	if err := t.checkKey(key); err != nil {
		return nil, err
	}
	if t.rootId == 0 {
		return nil, NewKeyNotFoundError()
	}

	c := t.newTxCache(ctx, tr)

	var ancestors []ancestorStep
	var terminal *Node
	existence := false
	cur := t.rootId
	for {
		n, err := c.get(cur)
		if err != nil {
			return nil, err
		}
		cmp := key.Cmp(n.Key)
		if cmp == 0 {
			existence = true
			terminal = n
			break
		}
		var next, other NodeId
		if cmp < 0 {
			next, other = n.Left, n.Right
		} else {
			next, other = n.Right, n.Left
		}
		if next == 0 {
			terminal = n
			break
		}
		sib, err := c.hashOf(other)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, ancestorStep{key: n.Key, sibling: sib, right: cmp > 0})
		cur = next
	}

	lh, err := c.hashOf(terminal.Left)
	if err != nil {
		return nil, err
	}
	rh, err := c.hashOf(terminal.Right)
	if err != nil {
		return nil, err
	}

	siblings := [][]byte{
		append([]byte(nil), lh...),
		append([]byte(nil), rh...),
	}
	var rightBits []bool
	rightBits = append(rightBits, false)
	for i := len(ancestors) - 1; i >= 0; i-- {
		siblings = append(siblings, padKey(ancestors[i].key), append([]byte(nil), ancestors[i].sibling...))
		rightBits = append(rightBits, ancestors[i].right)
	}
	if uint32(t.cfg.DesiredProofLength) > minLength {
		minLength = uint32(t.cfg.DesiredProofLength)
	}
	for uint32(len(siblings)) < minLength {
		siblings = append(siblings, append([]byte(nil), EmptyHash...), append([]byte(nil), EmptyHash...))
		rightBits = append(rightBits, false)
	}

	p := &Proof{
		Root:          append([]byte(nil), t.rootHash...),
		Key:           append(Key(nil), key...),
		Existence:     existence,
		Siblings:      siblings,
		DirectionBits: packBits(rightBits),
	}
	if !existence {
		p.NonExistenceKey = append(Key(nil), terminal.Key...)
	}
	return p, nil
}

// padKey left-pads a key to the width of a hash, so ancestor keys and
// sibling hashes share one array on the wire.
func padKey(key Key) []byte {
	out := make([]byte, HashSize)
	copy(out[HashSize-len(key):], key)
	return out
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for j, b := range bits {
		if b {
			out[j/8] |= 1 << uint(j%8)
		}
	}
	return out
}

func bitAt(bits []byte, j int) bool {
	if j/8 >= len(bits) {
		return false
	}
	return bits[j/8]&(1<<uint(j%8)) != 0
}

// Marshal encodes the proof in the fixed cross-system binary layout:
// root, key, one existence byte, non-existence key (zeroed for inclusion
// proofs), a big-endian uint32 sibling count, the siblings, then the
// direction bitvector.
func (p *Proof) Marshal(keysByteLength int) ([]byte, error) {
	if len(p.Root) != HashSize || len(p.Key) != keysByteLength {
		return nil, NewMalformedProofError("wrong root or key width")
	}
	if len(p.Siblings)%2 != 0 {
		return nil, NewMalformedProofError("odd sibling count")
	}
	numPairs := len(p.Siblings) / 2
	buf := make([]byte, 0, HashSize+2*keysByteLength+1+4+HashSize*len(p.Siblings)+(numPairs+7)/8)
	buf = append(buf, p.Root...)
	buf = append(buf, p.Key...)
	if p.Existence {
		buf = append(buf, 1)
		buf = append(buf, make([]byte, keysByteLength)...)
	} else {
		if len(p.NonExistenceKey) != keysByteLength {
			return nil, NewMalformedProofError("wrong non-existence key width")
		}
		buf = append(buf, 0)
		buf = append(buf, p.NonExistenceKey...)
	}
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(p.Siblings)))
	buf = append(buf, lenBytes[:]...)
	for _, s := range p.Siblings {
		if len(s) != HashSize {
			return nil, NewMalformedProofError("wrong sibling width")
		}
		buf = append(buf, s...)
	}
	bits := make([]byte, (numPairs+7)/8)
	copy(bits, p.DirectionBits)
	buf = append(buf, bits...)
	return buf, nil
}

// UnmarshalProof decodes the fixed binary layout produced by Marshal,
// rejecting any length mismatch.
func UnmarshalProof(keysByteLength int, buf []byte) (*Proof, error) {
	if keysByteLength < 1 || keysByteLength > HashSize {
		return nil, NewMalformedProofError("bad key width")
	}
	header := HashSize + keysByteLength + 1 + keysByteLength + 4
	if len(buf) < header {
		return nil, NewMalformedProofError("truncated header")
	}
	p := &Proof{}
	off := 0
	p.Root = append([]byte(nil), buf[off:off+HashSize]...)
	off += HashSize
	p.Key = append(Key(nil), buf[off:off+keysByteLength]...)
	off += keysByteLength
	switch buf[off] {
	case 0:
		p.Existence = false
	case 1:
		p.Existence = true
	default:
		return nil, NewMalformedProofError("bad existence byte")
	}
	off++
	nek := buf[off : off+keysByteLength]
	off += keysByteLength
	if p.Existence {
		if !Key(nek).isZero() {
			return nil, NewMalformedProofError("non-existence key set on inclusion proof")
		}
	} else {
		p.NonExistenceKey = append(Key(nil), nek...)
	}
	siblingsLength := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if siblingsLength%2 != 0 {
		return nil, NewMalformedProofError("odd sibling count")
	}
	numPairs := int(siblingsLength) / 2
	want := off + int(siblingsLength)*HashSize + (numPairs+7)/8
	if len(buf) != want {
		return nil, NewMalformedProofError("wrong total length")
	}
	p.Siblings = make([][]byte, 0, siblingsLength)
	for i := 0; i < int(siblingsLength); i++ {
		p.Siblings = append(p.Siblings, append([]byte(nil), buf[off:off+HashSize]...))
		off += HashSize
	}
	p.DirectionBits = append([]byte(nil), buf[off:]...)
	return p, nil
}
