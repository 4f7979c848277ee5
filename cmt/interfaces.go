package cmt

import (
	"github.com/dl-solarity/cartesian-merkle-go/logger"
)

// NodeStore specifies how treap nodes and committed roots are stored and
// looked up. You can keep everything in memory, or use a DB; the tree only
// ever refers to nodes through their ids.
type NodeStore interface {
	// Allocate stores a brand-new node and returns its id. Ids are handed
	// out monotonically starting at 1 and are never reassigned, even after
	// the node is freed.
	Allocate(logger.ContextInterface, Transaction, Node) (NodeId, error)

	// UpdateNodes overwrites existing node records. Called with the batch of
	// nodes whose children or hashes changed during one mutation.
	UpdateNodes(logger.ContextInterface, Transaction, []IdNodePair) error

	// Free tombstones a node. Looking the id up afterwards returns a
	// NodeNotFoundError.
	Free(logger.ContextInterface, Transaction, NodeId) error

	// LookupNode returns the node stored at the given id, or a
	// NodeNotFoundError if it was never allocated or has been freed.
	LookupNode(logger.ContextInterface, Transaction, NodeId) (Node, error)

	// LookupAllKeys returns the keys of all live nodes in ascending order.
	LookupAllKeys(logger.ContextInterface, Transaction) ([]Key, error)

	// StoreRoot stores the supplied RootMetadata.
	StoreRoot(logger.ContextInterface, Transaction, RootMetadata) error

	// LookupLatestRoot returns the metadata with the highest seqno. If no
	// root was ever stored, a NoLatestRootFoundError is returned.
	LookupLatestRoot(logger.ContextInterface, Transaction) (RootMetadata, error)

	// LookupRoot returns the metadata committed at the given seqno, or an
	// InvalidSeqnoError.
	LookupRoot(logger.ContextInterface, Transaction, Seqno) (RootMetadata, error)
}

// Transaction references a DB transaction.
type Transaction interface{}
