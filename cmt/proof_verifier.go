package cmt

import (
	"bytes"
)

// ProofVerifier checks proofs against a claimed root. It is a pure
// predicate over the proof object: it never touches a live tree, and it
// returns false on any malformed input instead of erroring or panicking,
// so a hostile proof can never abort the caller.
type ProofVerifier struct {
	cfg Config
}

func NewProofVerifier(cfg Config) ProofVerifier {
	return ProofVerifier{cfg: cfg}
}

func (v ProofVerifier) keyOK(key Key) bool {
	return len(key) == v.cfg.KeysByteLength && !key.isZero()
}

// VerifyProof replays the proof's hash chain and independently checks that
// the queried key is bound to the reconstructed search path: at every
// ancestor the ordering of the key against the ancestor's key must agree
// with the recorded direction bit, and an exclusion proof must show a
// sentinel in the child slot the key would have occupied. Reconstructing
// the root hash alone is not enough, as an inclusion proof for one key
// could otherwise be replayed as an exclusion proof for an unrelated key.
func (v ProofVerifier) VerifyProof(p *Proof) bool {
	if p == nil {
		return false
	}
	if len(p.Root) != HashSize || !v.keyOK(p.Key) {
		return false
	}
	if len(p.Siblings) < 2 || len(p.Siblings)%2 != 0 {
		return false
	}
	for _, s := range p.Siblings {
		if len(s) != HashSize {
			return false
		}
	}
	numPairs := len(p.Siblings) / 2
	if len(p.DirectionBits) != (numPairs+7)/8 {
		return false
	}
	if bitAt(p.DirectionBits, 0) {
		return false
	}
	for j := numPairs; j < 8*len(p.DirectionBits); j++ {
		if bitAt(p.DirectionBits, j) {
			return false
		}
	}
	hasher, err := resolveHasher(v.cfg.HasherId)
	if err != nil {
		return false
	}

	leafKey := p.Key
	if !p.Existence {
		leafKey = p.NonExistenceKey
		if !v.keyOK(leafKey) || p.Key.Equal(leafKey) {
			return false
		}
		// The terminal's child slot on the queried key's side must be
		// empty, or the key could sit below the terminal after all.
		if p.Key.Cmp(leafKey) < 0 {
			if !bytes.Equal(p.Siblings[0], EmptyHash) {
				return false
			}
		} else {
			if !bytes.Equal(p.Siblings[1], EmptyHash) {
				return false
			}
		}
	}

	h := hasher.Hash3(leafKey, p.Siblings[0], p.Siblings[1])
	for j := 1; j < numPairs; j++ {
		nodeKeyPadded := p.Siblings[2*j]
		sibling := p.Siblings[2*j+1]
		if bytes.Equal(nodeKeyPadded, EmptyHash) && bytes.Equal(sibling, EmptyHash) {
			// Depth-hiding padding, never folded.
			if bitAt(p.DirectionBits, j) {
				return false
			}
			continue
		}
		pad := nodeKeyPadded[:HashSize-v.cfg.KeysByteLength]
		nodeKey := Key(nodeKeyPadded[HashSize-v.cfg.KeysByteLength:])
		if !Key(pad).isZero() || nodeKey.isZero() {
			return false
		}
		cmp := p.Key.Cmp(nodeKey)
		if cmp == 0 {
			return false
		}
		if bitAt(p.DirectionBits, j) {
			// The node below is the ancestor's right child, so the search
			// must have gone right here.
			if cmp < 0 {
				return false
			}
			h = hasher.Hash3(nodeKey, sibling, h)
		} else {
			if cmp > 0 {
				return false
			}
			h = hasher.Hash3(nodeKey, h, sibling)
		}
	}
	return hashEqual(h, p.Root)
}
