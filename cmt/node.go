package cmt

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Key is a fixed-width byte string, ordered lexicographically. All keys in a
// tree have the width the tree was configured with, and the all-zero key is
// reserved as a sentinel.
type Key []byte

func (k Key) String() string {
	return hex.EncodeToString(k)
}

// Equal compares two keys byte by byte.
func (k Key) Equal(k2 Key) bool {
	return bytes.Equal(k, k2)
}

// Cmp compares two keys lexicographically as byte slices.
func (k Key) Cmp(k2 Key) int {
	return bytes.Compare(k, k2)
}

func (k Key) isZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// NodeId is a stable arena index. Id 0 denotes the empty subtree and is
// never allocated to a real node; freed ids are never reassigned within a
// tree's lifetime.
type NodeId uint64

// Priority orders nodes in the max-heap dimension of the treap.
type Priority uint64

// Seqno is an integer used to differentiate successive versions of a tree.
// It bumps by one on every committed mutation.
type Seqno int64

// Node is a treap node as persisted by a NodeStore. Hash is the Merkle
// commitment of the subtree rooted here, recomputed on every structural
// change touching the subtree.
type Node struct {
	_struct  struct{} `codec:",toarray"` //nolint
	Key      Key      `codec:"k"`
	Priority Priority `codec:"p"`
	Left     NodeId   `codec:"l"`
	Right    NodeId   `codec:"r"`
	Hash     []byte   `codec:"h"`
}

// IdNodePair is a node together with its arena id, the unit of batched
// writes to a NodeStore.
type IdNodePair struct {
	_struct struct{} `codec:",toarray"` //nolint
	Id      NodeId   `codec:"i"`
	Node    Node     `codec:"n"`
}

type RootVersion uint8

const (
	RootVersionV1      RootVersion = 1
	CurrentRootVersion RootVersion = RootVersionV1
)

// RootMetadata is the record committed to the NodeStore after every
// mutation. It carries everything needed to reopen the tree: the root node,
// the counts, the hasher tag and the priority salt.
type RootMetadata struct {
	_struct      struct{}    `codec:",toarray"` //nolint
	RootVersion  RootVersion `codec:"v"`
	Seqno        Seqno       `codec:"s"`
	RootId       NodeId      `codec:"i"`
	RootHash     []byte      `codec:"h"`
	NodeCount    uint64      `codec:"n"`
	DeletedCount uint64      `codec:"d"`
	HasherId     HasherId    `codec:"f"`
	Salt         []byte      `codec:"z"`
}

func RandomBytes(n int) ([]byte, error) {
	ret := make([]byte, n)
	_, err := rand.Read(ret)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// priorityOf derives the heap priority of a key. The salt is fixed at tree
// creation; with a secret salt an adversary choosing keys cannot grind
// priorities into a degenerate chain. An empty salt gives fully
// deterministic priorities with a documented linear worst case.
func priorityOf(salt []byte, key Key) Priority {
	h := sha256.New()
	h.Write(salt)
	h.Write(key)
	return Priority(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}
