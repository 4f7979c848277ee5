package cmt

import "fmt"

// InvalidConfigError happens when trying to construct an invalid tree
// configuration.
type InvalidConfigError struct {
	reason string
}

func NewInvalidConfigError(reason string) InvalidConfigError {
	return InvalidConfigError{reason: reason}
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.reason)
}

// InvalidKeyError happens when a key does not have the width the tree was
// configured with, or is the reserved all-zero sentinel.
type InvalidKeyError struct {
	reason string
}

func NewInvalidKeyError(reason string) InvalidKeyError {
	return InvalidKeyError{reason: reason}
}

func (e InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key: %s", e.reason)
}

// DuplicateKeyError happens when adding a key which is already in the tree.
type DuplicateKeyError struct {
	key Key
}

func NewDuplicateKeyError(key Key) DuplicateKeyError {
	return DuplicateKeyError{key: key}
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("key %v is already in the tree", e.key)
}

// KeyNotFoundError happens when removing or proving a key which the tree
// does not contain.
type KeyNotFoundError struct{}

func NewKeyNotFoundError() KeyNotFoundError {
	return KeyNotFoundError{}
}

func (e KeyNotFoundError) Error() string {
	return "key not found"
}

// TreeNotEmptyError happens when changing the hasher of a tree which
// already has elements.
type TreeNotEmptyError struct{}

func NewTreeNotEmptyError() TreeNotEmptyError {
	return TreeNotEmptyError{}
}

func (e TreeNotEmptyError) Error() string {
	return "the hasher can only be changed on an empty tree"
}

// UnknownHasherError happens when a HasherId cannot be resolved through the
// dispatch table.
type UnknownHasherError struct {
	id HasherId
}

func NewUnknownHasherError(id HasherId) UnknownHasherError {
	return UnknownHasherError{id: id}
}

func (e UnknownHasherError) Error() string {
	return fmt.Sprintf("no hasher registered for id %v", e.id)
}

// NodeNotFoundError happens when looking up a node id which the store has
// never allocated, or has already freed.
type NodeNotFoundError struct{}

func NewNodeNotFoundError() NodeNotFoundError {
	return NodeNotFoundError{}
}

func (e NodeNotFoundError) Error() string {
	return "node not found"
}

// NoLatestRootFoundError happens when looking up the latest root of a store
// which has never committed one.
type NoLatestRootFoundError struct{}

func NewNoLatestRootFoundError() NoLatestRootFoundError {
	return NoLatestRootFoundError{}
}

func (e NoLatestRootFoundError) Error() string {
	return "no latest root was found"
}

// InvalidSeqnoError happens when looking up a root at a seqno which was
// never committed.
type InvalidSeqnoError struct {
	s Seqno
}

func NewInvalidSeqnoError(s Seqno) InvalidSeqnoError {
	return InvalidSeqnoError{s: s}
}

func (e InvalidSeqnoError) Error() string {
	return fmt.Sprintf("no root at seqno %v", e.s)
}

// CorruptTreeError reports a violated structural invariant (BST order, heap
// order or a stale hash). It cannot be repaired locally.
type CorruptTreeError struct {
	reason string
}

func NewCorruptTreeError(reason string) CorruptTreeError {
	return CorruptTreeError{reason: reason}
}

func (e CorruptTreeError) Error() string {
	return fmt.Sprintf("corrupt tree: %s", e.reason)
}

// MalformedProofError happens when deserializing proof bytes which do not
// follow the wire layout. Verification itself never returns it: VerifyProof
// collapses every failure into false.
type MalformedProofError struct {
	reason string
}

func NewMalformedProofError(reason string) MalformedProofError {
	return MalformedProofError{reason: reason}
}

func (e MalformedProofError) Error() string {
	return fmt.Sprintf("malformed proof: %s", e.reason)
}
