package cmt

import (
	"sort"
	"sync"

	"github.com/dl-solarity/cartesian-merkle-go/logger"
)

// Tree is an authenticated treap: a binary search tree ordered by key which
// is simultaneously a max-heap ordered by a priority derived from the key,
// carrying a Merkle commitment on every node. The commitment of a node is
// Hash3(key, leftSubtreeHash, rightSubtreeHash), with EmptyHash standing in
// for empty subtrees.
//
// A Tree instance is single-writer: the embedded lock serializes mutations,
// and the caller is responsible for transaction boundaries through the
// Transaction argument, as with the storage engines.
type Tree struct {
	sync.RWMutex

	cfg Config
	eng NodeStore

	rootId       NodeId
	rootHash     []byte
	seqno        Seqno
	nodeCount    uint64
	deletedCount uint64
}

// NewTree makes a new empty tree on top of the given store.
func NewTree(cfg Config, eng NodeStore) (*Tree, error) {
	if _, err := resolveHasher(cfg.HasherId); err != nil {
		return nil, err
	}
	return &Tree{cfg: cfg, eng: eng, rootHash: append([]byte(nil), EmptyHash...)}, nil
}

// NewTreeFromStore reopens a tree from the latest root committed to the
// store. The hasher tag and priority salt come from the stored metadata, so
// the behavior survives restarts without ever persisting function values.
func NewTreeFromStore(ctx logger.ContextInterface, tr Transaction, cfg Config, eng NodeStore) (*Tree, error) {
	md, err := eng.LookupLatestRoot(ctx, tr)
	switch err.(type) {
	case NoLatestRootFoundError:
		return NewTree(cfg, eng)
	case nil:
	default:
		return nil, err
	}
	cfg.HasherId = md.HasherId
	cfg.Salt = md.Salt
	t, err := NewTree(cfg, eng)
	if err != nil {
		return nil, err
	}
	t.rootId = md.RootId
	t.rootHash = append([]byte(nil), md.RootHash...)
	t.seqno = md.Seqno
	t.nodeCount = md.NodeCount
	t.deletedCount = md.DeletedCount
	return t, nil
}

func (t *Tree) Eng() NodeStore {
	return t.eng
}

// Config returns a copy of the tree's configuration.
func (t *Tree) Config() Config {
	t.RLock()
	defer t.RUnlock()
	return t.cfg
}

// SetHasher switches the hash function tag. Only permitted while the tree is
// empty: existing commitments cannot be rehashed in place.
func (t *Tree) SetHasher(id HasherId) error {
	t.Lock()
	defer t.Unlock()
	if t.rootId != 0 {
		return NewTreeNotEmptyError()
	}
	if _, err := resolveHasher(id); err != nil {
		return err
	}
	t.cfg.HasherId = id
	return nil
}

// GetRoot returns the Merkle commitment of the whole tree, EmptyHash when
// the tree is empty.
func (t *Tree) GetRoot() []byte {
	t.RLock()
	defer t.RUnlock()
	return append([]byte(nil), t.rootHash...)
}

// Seqno returns the seqno of the last committed mutation.
func (t *Tree) Seqno() Seqno {
	t.RLock()
	defer t.RUnlock()
	return t.seqno
}

// Count returns the number of live keys.
func (t *Tree) Count() uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.nodeCount
}

// DeletedCount returns the number of tombstoned nodes.
func (t *Tree) DeletedCount() uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.deletedCount
}

func (t *Tree) checkKey(key Key) error {
	if len(key) != t.cfg.KeysByteLength {
		return NewInvalidKeyError("wrong key width for this tree")
	}
	if key.isZero() {
		return NewInvalidKeyError("the all-zero key is reserved")
	}
	return nil
}

// step records one edge of a descent: the node visited and whether the path
// continued into its left child.
type step struct {
	id   NodeId
	left bool
}

// Add inserts a key. The new node descends to its in-order position and is
// then rotated up until the heap property holds again; the hashes of every
// node whose subtree changed are recomputed child-before-parent.
func (t *Tree) Add(ctx logger.ContextInterface, tr Transaction, key Key) error {
	t.Lock()
	defer t.Unlock()

	if err := t.checkKey(key); err != nil {
		return err
	}
	hasher, err := resolveHasher(t.cfg.HasherId)
	if err != nil {
		return err
	}
	key = append(Key(nil), key...)

	c := t.newTxCache(ctx, tr)

	var path []step
	cur := t.rootId
	for cur != 0 {
		n, err := c.get(cur)
		if err != nil {
			return err
		}
		cmp := key.Cmp(n.Key)
		if cmp == 0 {
			return NewDuplicateKeyError(key)
		}
		path = append(path, step{id: cur, left: cmp < 0})
		if cmp < 0 {
			cur = n.Left
		} else {
			cur = n.Right
		}
	}

	newNode := Node{
		Key:      key,
		Priority: priorityOf(t.cfg.Salt, key),
		Hash:     hasher.Hash3(key, EmptyHash, EmptyHash),
	}
	newId, err := t.eng.Allocate(ctx, tr, newNode)
	if err != nil {
		return err
	}
	c.put(newId, newNode)

	// Unwind with an explicit ancestor stack rather than recursion, so the
	// call stack stays flat even on a degenerate tree.
	childId := newId
	for i := len(path) - 1; i >= 0; i-- {
		parentId := path[i].id
		parent, err := c.get(parentId)
		if err != nil {
			return err
		}
		if path[i].left {
			parent.Left = childId
		} else {
			parent.Right = childId
		}
		child, err := c.get(childId)
		if err != nil {
			return err
		}
		if child.Priority > parent.Priority {
			// The child wins the heap comparison: rotate it above the
			// parent. BST order is preserved, the parent keeps the child's
			// transferred subtree.
			if path[i].left {
				parent.Left = child.Right
				child.Right = parentId
			} else {
				parent.Right = child.Left
				child.Left = parentId
			}
			if err := c.rehash(hasher, parentId); err != nil {
				return err
			}
			if err := c.rehash(hasher, childId); err != nil {
				return err
			}
		} else {
			if err := c.rehash(hasher, parentId); err != nil {
				return err
			}
			childId = parentId
		}
	}
	t.rootId = childId

	rootHash, err := c.hashOf(t.rootId)
	if err != nil {
		return err
	}
	if err := c.flush(); err != nil {
		return err
	}
	t.nodeCount++
	t.seqno++
	t.rootHash = append([]byte(nil), rootHash...)
	return t.storeRoot(ctx, tr)
}

// Remove deletes a key. A node with two children is rotated downward,
// promoting its higher-priority child, until it has at most one child; it is
// then spliced out and tombstoned, and the whole modified path is rehashed
// bottom-up. Swapping arbitrary elements instead would break both the BST
// and the heap order, so only this rotation-based descent is correct here.
func (t *Tree) Remove(ctx logger.ContextInterface, tr Transaction, key Key) error {
	t.Lock()
	defer t.Unlock()

	if err := t.checkKey(key); err != nil {
		return err
	}
	hasher, err := resolveHasher(t.cfg.HasherId)
	if err != nil {
		return err
	}

	c := t.newTxCache(ctx, tr)

	var path []step
	cur := t.rootId
	for {
		if cur == 0 {
			return NewKeyNotFoundError()
		}
		n, err := c.get(cur)
		if err != nil {
			return err
		}
		cmp := key.Cmp(n.Key)
		if cmp == 0 {
			break
		}
		path = append(path, step{id: cur, left: cmp < 0})
		if cmp < 0 {
			cur = n.Left
		} else {
			cur = n.Right
		}
	}
	target := cur

	relink := func(child NodeId) error {
		if len(path) == 0 {
			t.rootId = child
			return nil
		}
		last := path[len(path)-1]
		p, err := c.get(last.id)
		if err != nil {
			return err
		}
		if last.left {
			p.Left = child
		} else {
			p.Right = child
		}
		c.markDirty(last.id)
		return nil
	}

	for {
		n, err := c.get(target)
		if err != nil {
			return err
		}
		if n.Left == 0 || n.Right == 0 {
			break
		}
		l, err := c.get(n.Left)
		if err != nil {
			return err
		}
		r, err := c.get(n.Right)
		if err != nil {
			return err
		}
		// Rotate toward the lower-priority side so the promoted child keeps
		// the heap property over the remaining sibling.
		if l.Priority >= r.Priority {
			promoted := n.Left
			n.Left = l.Right
			l.Right = target
			if err := relink(promoted); err != nil {
				return err
			}
			path = append(path, step{id: promoted, left: false})
		} else {
			promoted := n.Right
			n.Right = r.Left
			r.Left = target
			if err := relink(promoted); err != nil {
				return err
			}
			path = append(path, step{id: promoted, left: true})
		}
	}

	n, err := c.get(target)
	if err != nil {
		return err
	}
	child := n.Left
	if child == 0 {
		child = n.Right
	}
	if err := relink(child); err != nil {
		return err
	}
	if err := t.eng.Free(ctx, tr, target); err != nil {
		return err
	}
	c.drop(target)

	for i := len(path) - 1; i >= 0; i-- {
		if err := c.rehash(hasher, path[i].id); err != nil {
			return err
		}
	}

	rootHash := EmptyHash
	if t.rootId != 0 {
		rootHash, err = c.hashOf(t.rootId)
		if err != nil {
			return err
		}
	}
	if err := c.flush(); err != nil {
		return err
	}
	t.nodeCount--
	t.deletedCount++
	t.seqno++
	t.rootHash = append([]byte(nil), rootHash...)
	return t.storeRoot(ctx, tr)
}

// Contains reports whether the key is in the tree.
func (t *Tree) Contains(ctx logger.ContextInterface, tr Transaction, key Key) (bool, error) {
	t.RLock()
	defer t.RUnlock()

	if err := t.checkKey(key); err != nil {
		return false, err
	}
	cur := t.rootId
	for cur != 0 {
		n, err := t.eng.LookupNode(ctx, tr, cur)
		if err != nil {
			return false, err
		}
		cmp := key.Cmp(n.Key)
		if cmp == 0 {
			return true, nil
		}
		if cmp < 0 {
			cur = n.Left
		} else {
			cur = n.Right
		}
	}
	return false, nil
}

// Keys returns every key in ascending order, walking the treap in-order
// with an explicit stack.
func (t *Tree) Keys(ctx logger.ContextInterface, tr Transaction) ([]Key, error) {
	t.RLock()
	defer t.RUnlock()

	var keys []Key
	var stack []NodeId
	cur := t.rootId
	for cur != 0 || len(stack) > 0 {
		for cur != 0 {
			n, err := t.eng.LookupNode(ctx, tr, cur)
			if err != nil {
				return nil, err
			}
			stack = append(stack, cur)
			cur = n.Left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := t.eng.LookupNode(ctx, tr, cur)
		if err != nil {
			return nil, err
		}
		keys = append(keys, n.Key)
		cur = n.Right
	}
	return keys, nil
}

// CheckInvariants re-verifies the BST order, the heap order and every
// subtree hash of the current tree, returning a CorruptTreeError on the
// first violation. Intended as a self-check for hosts and tests; it reads
// the whole tree.
func (t *Tree) CheckInvariants(ctx logger.ContextInterface, tr Transaction) error {
	t.RLock()
	defer t.RUnlock()

	hasher, err := resolveHasher(t.cfg.HasherId)
	if err != nil {
		return err
	}
	if t.rootId == 0 {
		return nil
	}
	h, err := t.checkSubtree(ctx, tr, hasher, t.rootId, nil, nil, nil)
	if err != nil {
		return err
	}
	if !hashEqual(h, t.rootHash) {
		return NewCorruptTreeError("root hash does not match recomputed subtree hash")
	}
	return nil
}

func (t *Tree) checkSubtree(ctx logger.ContextInterface, tr Transaction, hasher Hasher,
	id NodeId, lower, upper Key, parentPriority *Priority) ([]byte, error) {
	if id == 0 {
		return EmptyHash, nil
	}
	n, err := t.eng.LookupNode(ctx, tr, id)
	if err != nil {
		return nil, err
	}
	if lower != nil && n.Key.Cmp(lower) <= 0 {
		return nil, NewCorruptTreeError("BST order violated")
	}
	if upper != nil && n.Key.Cmp(upper) >= 0 {
		return nil, NewCorruptTreeError("BST order violated")
	}
	if parentPriority != nil && n.Priority > *parentPriority {
		return nil, NewCorruptTreeError("heap order violated")
	}
	lh, err := t.checkSubtree(ctx, tr, hasher, n.Left, lower, n.Key, &n.Priority)
	if err != nil {
		return nil, err
	}
	rh, err := t.checkSubtree(ctx, tr, hasher, n.Right, n.Key, upper, &n.Priority)
	if err != nil {
		return nil, err
	}
	h := hasher.Hash3(n.Key, lh, rh)
	if !hashEqual(h, n.Hash) {
		return nil, NewCorruptTreeError("stale node hash")
	}
	return h, nil
}

func (t *Tree) storeRoot(ctx logger.ContextInterface, tr Transaction) error {
	return t.eng.StoreRoot(ctx, tr, RootMetadata{
		RootVersion:  CurrentRootVersion,
		Seqno:        t.seqno,
		RootId:       t.rootId,
		RootHash:     append([]byte(nil), t.rootHash...),
		NodeCount:    t.nodeCount,
		DeletedCount: t.deletedCount,
		HasherId:     t.cfg.HasherId,
		Salt:         t.cfg.Salt,
	})
}

// txCache overlays the NodeStore during one mutation, so every node is read
// at most once and all writes go out as a single batch.
type txCache struct {
	t     *Tree
	ctx   logger.ContextInterface
	tr    Transaction
	nodes map[NodeId]*Node
	dirty map[NodeId]bool
}

func (t *Tree) newTxCache(ctx logger.ContextInterface, tr Transaction) *txCache {
	return &txCache{
		t:     t,
		ctx:   ctx,
		tr:    tr,
		nodes: make(map[NodeId]*Node),
		dirty: make(map[NodeId]bool),
	}
}

func (c *txCache) get(id NodeId) (*Node, error) {
	if n, ok := c.nodes[id]; ok {
		return n, nil
	}
	n, err := c.t.eng.LookupNode(c.ctx, c.tr, id)
	if err != nil {
		return nil, err
	}
	c.nodes[id] = &n
	return &n, nil
}

func (c *txCache) put(id NodeId, n Node) {
	c.nodes[id] = &n
}

func (c *txCache) markDirty(id NodeId) {
	c.dirty[id] = true
}

func (c *txCache) drop(id NodeId) {
	delete(c.nodes, id)
	delete(c.dirty, id)
}

func (c *txCache) hashOf(id NodeId) ([]byte, error) {
	if id == 0 {
		return EmptyHash, nil
	}
	n, err := c.get(id)
	if err != nil {
		return nil, err
	}
	return n.Hash, nil
}

func (c *txCache) rehash(hasher Hasher, id NodeId) error {
	n, err := c.get(id)
	if err != nil {
		return err
	}
	lh, err := c.hashOf(n.Left)
	if err != nil {
		return err
	}
	rh, err := c.hashOf(n.Right)
	if err != nil {
		return err
	}
	n.Hash = hasher.Hash3(n.Key, lh, rh)
	c.dirty[id] = true
	return nil
}

func (c *txCache) flush() error {
	if len(c.dirty) == 0 {
		return nil
	}
	pairs := make([]IdNodePair, 0, len(c.dirty))
	for id := range c.dirty {
		pairs = append(pairs, IdNodePair{Id: id, Node: *c.nodes[id]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Id < pairs[j].Id })
	return c.t.eng.UpdateNodes(c.ctx, c.tr, pairs)
}
