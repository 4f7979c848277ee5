package storage

import (
	"database/sql"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/dl-solarity/cartesian-merkle-go/cmt"
	"github.com/dl-solarity/cartesian-merkle-go/logger"
	"github.com/dl-solarity/cartesian-merkle-go/msgpack"
)

// NodeStorageEngine implements the cmt.NodeStore interface on top of two
// stores: node records live in leveldb under their arena id, while root
// metadata and the sorted key index live in sql. Node lookups go through an
// LRU cache first; the tree rereads hot upper nodes on every descent, so
// the cache carries most of the read load.
//
// Transactions cover only the sql side. Leveldb writes are applied as
// atomic batches per mutation but are not tied to the sql transaction, so
// a host that rolls back must Reset and rebuild.

const nodeCacheSize = 100000

var nextIdKey = []byte("m:next")

type NodeStorageEngine struct {
	sync.Mutex

	db      *sqlx.DB
	leveldb *leveldb.DB

	cfg    cmt.Config
	treeId []byte

	nodeCache *lru.Cache[cmt.NodeId, cmt.Node]
	nextId    cmt.NodeId
}

var _ cmt.NodeStore = (*NodeStorageEngine)(nil)

func NewNodeStorageEngine(db *sqlx.DB, path string, cfg cmt.Config, treeId []byte) (*NodeStorageEngine, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb")
	}
	cache, err := lru.New[cmt.NodeId, cmt.Node](nodeCacheSize)
	if err != nil {
		return nil, err
	}
	e := &NodeStorageEngine{
		db:        db,
		leveldb:   ldb,
		cfg:       cfg,
		treeId:    treeId,
		nodeCache: cache,
	}
	raw, err := ldb.Get(nextIdKey, nil)
	switch err {
	case nil:
		e.nextId = cmt.NodeId(binary.BigEndian.Uint64(raw))
	case leveldb.ErrNotFound:
		e.nextId = 1
	default:
		return nil, errors.Wrap(err, "reading allocation counter")
	}
	return e, nil
}

func (e *NodeStorageEngine) Close() error {
	return e.leveldb.Close()
}

func (e *NodeStorageEngine) Tx() *sqlx.Tx {
	return e.db.MustBegin()
}

// Reset drops and recreates the sql tables for this engine. The leveldb
// directory must be cleared separately.
func (e *NodeStorageEngine) Reset() error {
	tx := e.db.MustBegin()
	tx.MustExec(`DROP TABLE IF EXISTS node_keys`)
	tx.MustExec(`CREATE TABLE node_keys(
		tree_id bytea,
		key bytea,
		node_id bigint,
		PRIMARY KEY (tree_id, key)
	);`)
	tx.MustExec(`DROP TABLE IF EXISTS roots`)
	tx.MustExec(`CREATE TABLE roots(
		tree_id bytea,
		seqno bigint,
		root_metadata bytea,
		PRIMARY KEY (tree_id, seqno)
	);`)
	return tx.Commit()
}

func nodeKey(id cmt.NodeId) []byte {
	b := make([]byte, 9)
	b[0] = 'n'
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b
}

func (e *NodeStorageEngine) Allocate(ctx logger.ContextInterface, tr cmt.Transaction, n cmt.Node) (cmt.NodeId, error) {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return 0, errors.New("Require sqlx tx")
	}

	e.Lock()
	id := e.nextId
	e.nextId++
	e.Unlock()

	enc, err := msgpack.EncodeCanonical(n)
	if err != nil {
		return 0, err
	}
	batch := new(leveldb.Batch)
	batch.Put(nodeKey(id), enc)
	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, uint64(e.nextId))
	batch.Put(nextIdKey, counter)
	if err := e.leveldb.Write(batch, nil); err != nil {
		return 0, errors.Wrap(err, "storing node")
	}
	e.nodeCache.Add(id, n)

	q, args, err := sq.
		Insert("node_keys").
		Columns("tree_id", "key", "node_id").
		Values(e.treeId, []byte(n.Key), id).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building key index insert")
	}
	q = e.db.Rebind(q)
	if _, err = tx.Exec(q, args...); err != nil {
		return 0, errors.Wrap(err, "inserting key index row")
	}
	return id, nil
}

func (e *NodeStorageEngine) UpdateNodes(ctx logger.ContextInterface, tr cmt.Transaction, pairs []cmt.IdNodePair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, pair := range pairs {
		if _, err := e.LookupNode(ctx, tr, pair.Id); err != nil {
			return err
		}
		enc, err := msgpack.EncodeCanonical(pair.Node)
		if err != nil {
			return err
		}
		batch.Put(nodeKey(pair.Id), enc)
	}
	if err := e.leveldb.Write(batch, nil); err != nil {
		return errors.Wrap(err, "updating nodes")
	}
	for _, pair := range pairs {
		e.nodeCache.Add(pair.Id, pair.Node)
	}
	return nil
}

func (e *NodeStorageEngine) Free(ctx logger.ContextInterface, tr cmt.Transaction, id cmt.NodeId) error {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return errors.New("Require sqlx tx")
	}

	n, err := e.LookupNode(ctx, tr, id)
	if err != nil {
		return err
	}
	// The allocation counter never moves backwards, so the id stays burned.
	if err := e.leveldb.Delete(nodeKey(id), nil); err != nil {
		return errors.Wrap(err, "deleting node")
	}
	e.nodeCache.Remove(id)

	q := `DELETE FROM node_keys WHERE tree_id=? AND key=? AND node_id=?`
	q = e.db.Rebind(q)
	if _, err := tx.Exec(q, e.treeId, []byte(n.Key), id); err != nil {
		return errors.Wrap(err, "deleting key index row")
	}
	return nil
}

func (e *NodeStorageEngine) LookupNode(ctx logger.ContextInterface, tr cmt.Transaction, id cmt.NodeId) (cmt.Node, error) {
	if id == 0 {
		return cmt.Node{}, cmt.NewNodeNotFoundError()
	}
	if n, ok := e.nodeCache.Get(id); ok {
		return n, nil
	}
	raw, err := e.leveldb.Get(nodeKey(id), nil)
	switch err {
	case nil:
	case leveldb.ErrNotFound:
		return cmt.Node{}, cmt.NewNodeNotFoundError()
	default:
		return cmt.Node{}, errors.Wrap(err, "reading node")
	}
	var n cmt.Node
	if err := msgpack.Decode(&n, raw); err != nil {
		return cmt.Node{}, err
	}
	e.nodeCache.Add(id, n)
	return n, nil
}

func (e *NodeStorageEngine) LookupAllKeys(ctx logger.ContextInterface, tr cmt.Transaction) ([]cmt.Key, error) {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return nil, errors.New("Require sqlx tx")
	}

	q, args, err := sq.
		Select("key").
		From("node_keys").
		Where(sq.Eq{"tree_id": e.treeId}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building key index select")
	}
	q = e.db.Rebind(q)
	var raw [][]byte
	if err := tx.Select(&raw, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting keys")
	}
	keys := make([]cmt.Key, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, cmt.Key(k))
	}
	return keys, nil
}

func (e *NodeStorageEngine) StoreRoot(ctx logger.ContextInterface, tr cmt.Transaction, md cmt.RootMetadata) error {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return errors.New("Require sqlx tx")
	}

	enc, err := msgpack.EncodeCanonical(md)
	if err != nil {
		return err
	}
	q, args, err := sq.
		Insert("roots").
		Columns("tree_id", "seqno", "root_metadata").
		Values(e.treeId, md.Seqno, enc).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building root insert")
	}
	q = e.db.Rebind(q)
	if _, err = tx.Exec(q, args...); err != nil {
		return errors.Wrap(err, "inserting root")
	}
	return nil
}

func (e *NodeStorageEngine) LookupLatestRoot(ctx logger.ContextInterface, tr cmt.Transaction) (cmt.RootMetadata, error) {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return cmt.RootMetadata{}, errors.New("Require sqlx tx")
	}

	var raw []byte
	q := `SELECT root_metadata FROM roots WHERE tree_id=? ORDER BY seqno DESC LIMIT 1`
	q = e.db.Rebind(q)
	err := tx.Get(&raw, q, e.treeId)
	switch err {
	case nil:
	case sql.ErrNoRows:
		return cmt.RootMetadata{}, cmt.NewNoLatestRootFoundError()
	default:
		return cmt.RootMetadata{}, errors.Wrap(err, "selecting latest root")
	}
	var md cmt.RootMetadata
	if err := msgpack.Decode(&md, raw); err != nil {
		return cmt.RootMetadata{}, err
	}
	return md, nil
}

func (e *NodeStorageEngine) LookupRoot(ctx logger.ContextInterface, tr cmt.Transaction, s cmt.Seqno) (cmt.RootMetadata, error) {
	tx, ok := tr.(*sqlx.Tx)
	if !ok {
		return cmt.RootMetadata{}, errors.New("Require sqlx tx")
	}

	var raw []byte
	q := `SELECT root_metadata FROM roots WHERE tree_id=? AND seqno=?`
	q = e.db.Rebind(q)
	err := tx.Get(&raw, q, e.treeId, s)
	switch err {
	case nil:
	case sql.ErrNoRows:
		return cmt.RootMetadata{}, cmt.NewInvalidSeqnoError(s)
	default:
		return cmt.RootMetadata{}, errors.Wrap(err, "selecting root")
	}
	var md cmt.RootMetadata
	if err := msgpack.Decode(&md, raw); err != nil {
		return cmt.RootMetadata{}, err
	}
	return md, nil
}
