package cmt

import (
	"github.com/gyuho/bst"

	"github.com/dl-solarity/cartesian-merkle-go/logger"
)

// keyRecord is what the sorted key index holds. Records are append-only;
// liveIds decides which of them are current.
type keyRecord struct {
	key Key
	id  NodeId
}

func (r *keyRecord) Less(r2 bst.Interface) bool {
	return r.key.Cmp(r2.(*keyRecord).key) <= 0
}

// In memory NodeStore implementation, used for tests and for hosts which
// persist elsewhere. It ignores Transaction arguments.
type InMemoryNodeStore struct {
	nodes []Node
	freed []bool

	roots  map[Seqno]RootMetadata
	latest Seqno

	// sorted index of every allocated key; freed entries are filtered
	// through liveIds on traversal.
	keyIndex *bst.Tree
	liveIds  map[string]NodeId
}

var _ NodeStore = (*InMemoryNodeStore)(nil)

func NewInMemoryNodeStore() *InMemoryNodeStore {
	return &InMemoryNodeStore{
		roots:   make(map[Seqno]RootMetadata),
		liveIds: make(map[string]NodeId),
	}
}

func (s *InMemoryNodeStore) Allocate(ctx logger.ContextInterface, tr Transaction, n Node) (NodeId, error) {
	s.nodes = append(s.nodes, n)
	s.freed = append(s.freed, false)
	id := NodeId(len(s.nodes))

	rec := &keyRecord{key: n.Key, id: id}
	nd := bst.NewNode(rec)
	if s.keyIndex == nil {
		s.keyIndex = bst.New(nd)
	} else {
		s.keyIndex.Insert(nd)
	}
	s.liveIds[n.Key.String()] = id

	return id, nil
}

func (s *InMemoryNodeStore) UpdateNodes(ctx logger.ContextInterface, tr Transaction, pairs []IdNodePair) error {
	for _, pair := range pairs {
		if err := s.check(pair.Id); err != nil {
			return err
		}
		s.nodes[pair.Id-1] = pair.Node
	}
	return nil
}

func (s *InMemoryNodeStore) Free(ctx logger.ContextInterface, tr Transaction, id NodeId) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.freed[id-1] = true
	k := s.nodes[id-1].Key.String()
	if s.liveIds[k] == id {
		delete(s.liveIds, k)
	}
	return nil
}

func (s *InMemoryNodeStore) LookupNode(ctx logger.ContextInterface, tr Transaction, id NodeId) (Node, error) {
	if err := s.check(id); err != nil {
		return Node{}, err
	}
	return s.nodes[id-1], nil
}

func (s *InMemoryNodeStore) LookupAllKeys(ctx logger.ContextInterface, tr Transaction) ([]Key, error) {
	var keys []Key
	if s.keyIndex == nil {
		return keys, nil
	}
	s.walkInOrder(s.keyIndex.Root, func(rec *keyRecord) {
		if s.liveIds[rec.key.String()] == rec.id {
			keys = append(keys, rec.key)
		}
	})
	return keys, nil
}

func (s *InMemoryNodeStore) walkInOrder(nd *bst.Node, f func(*keyRecord)) {
	if nd == nil || nd.Key == nil {
		return
	}
	s.walkInOrder(nd.Left, f)
	f(nd.Key.(*keyRecord))
	s.walkInOrder(nd.Right, f)
}

func (s *InMemoryNodeStore) StoreRoot(ctx logger.ContextInterface, tr Transaction, md RootMetadata) error {
	s.roots[md.Seqno] = md
	if md.Seqno > s.latest {
		s.latest = md.Seqno
	}
	return nil
}

func (s *InMemoryNodeStore) LookupLatestRoot(ctx logger.ContextInterface, tr Transaction) (RootMetadata, error) {
	if len(s.roots) == 0 {
		return RootMetadata{}, NewNoLatestRootFoundError()
	}
	return s.roots[s.latest], nil
}

func (s *InMemoryNodeStore) LookupRoot(ctx logger.ContextInterface, tr Transaction, seqno Seqno) (RootMetadata, error) {
	md, found := s.roots[seqno]
	if !found {
		return RootMetadata{}, NewInvalidSeqnoError(seqno)
	}
	return md, nil
}

func (s *InMemoryNodeStore) check(id NodeId) error {
	if id == 0 || int(id) > len(s.nodes) || s.freed[id-1] {
		return NewNodeNotFoundError()
	}
	return nil
}
