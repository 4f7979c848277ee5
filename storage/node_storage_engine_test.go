package storage

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/dl-solarity/cartesian-merkle-go/cmt"
	"github.com/dl-solarity/cartesian-merkle-go/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/require"
)

func NewLoggerContextTodoForTesting(t testing.TB) logger.ContextInterface {
	return logger.NewContext(context.TODO(), logger.NewTestLogger(t))
}

func newTestConfig(t *testing.T) cmt.Config {
	cfg, err := cmt.NewConfig(32, 0, cmt.HasherSHA256, []byte("storage test salt"))
	require.NoError(t, err)
	return cfg
}

func newTestEngine(t *testing.T) *NodeStorageEngine {
	treeId := make([]byte, 16)
	_, err := cryptorand.Read(treeId)
	require.NoError(t, err)

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	eng, err := NewNodeStorageEngine(db, t.TempDir()+"/lev", newTestConfig(t), treeId)
	require.NoError(t, err)
	require.NoError(t, eng.Reset())
	t.Cleanup(func() {
		_ = eng.Close()
		_ = db.Close()
	})
	return eng
}

func run(t testing.TB, eng *NodeStorageEngine, f func(tx *sqlx.Tx)) {
	tx := eng.Tx()
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		require.NoError(t, tx.Commit())
	}()
	f(tx)
}

func key32(n uint64) cmt.Key {
	k := make(cmt.Key, 32)
	binary.BigEndian.PutUint64(k[24:], n)
	return k
}

func TestStorageEngineNodeRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	logctx := NewLoggerContextTodoForTesting(t)

	var id1, id2 cmt.NodeId
	run(t, eng, func(tx *sqlx.Tx) {
		var err error
		id1, err = eng.Allocate(logctx, tx, cmt.Node{Key: key32(1), Priority: 10, Hash: make([]byte, 32)})
		require.NoError(t, err)
		require.EqualValues(t, 1, id1)
		id2, err = eng.Allocate(logctx, tx, cmt.Node{Key: key32(2), Priority: 20, Hash: make([]byte, 32)})
		require.NoError(t, err)
		require.NotEqual(t, id1, id2)
	})

	n, err := eng.LookupNode(logctx, nil, id1)
	require.NoError(t, err)
	require.Equal(t, key32(1), n.Key)
	require.EqualValues(t, 10, n.Priority)

	n.Left = id2
	require.NoError(t, eng.UpdateNodes(logctx, nil, []cmt.IdNodePair{{Id: id1, Node: n}}))
	// Clear the cache so the reread exercises leveldb and the msgpack
	// decode path.
	eng.nodeCache.Purge()
	n, err = eng.LookupNode(logctx, nil, id1)
	require.NoError(t, err)
	require.Equal(t, id2, n.Left)

	_, err = eng.LookupNode(logctx, nil, cmt.NodeId(0))
	require.IsType(t, cmt.NodeNotFoundError{}, err)
	_, err = eng.LookupNode(logctx, nil, cmt.NodeId(42))
	require.IsType(t, cmt.NodeNotFoundError{}, err)

	run(t, eng, func(tx *sqlx.Tx) {
		require.NoError(t, eng.Free(logctx, tx, id1))
		_, err := eng.LookupNode(logctx, tx, id1)
		require.IsType(t, cmt.NodeNotFoundError{}, err)
	})

	// Freed ids stay burned.
	run(t, eng, func(tx *sqlx.Tx) {
		id3, err := eng.Allocate(logctx, tx, cmt.Node{Key: key32(3), Hash: make([]byte, 32)})
		require.NoError(t, err)
		require.Greater(t, id3, id2)
	})
}

func TestStorageEngineKeyIndex(t *testing.T) {
	eng := newTestEngine(t)
	logctx := NewLoggerContextTodoForTesting(t)

	ids := make(map[uint64]cmt.NodeId)
	run(t, eng, func(tx *sqlx.Tx) {
		for _, n := range []uint64{9, 3, 7, 1, 5} {
			id, err := eng.Allocate(logctx, tx, cmt.Node{Key: key32(n), Hash: make([]byte, 32)})
			require.NoError(t, err)
			ids[n] = id
		}
		require.NoError(t, eng.Free(logctx, tx, ids[7]))
	})

	run(t, eng, func(tx *sqlx.Tx) {
		keys, err := eng.LookupAllKeys(logctx, tx)
		require.NoError(t, err)
		require.Equal(t, []cmt.Key{key32(1), key32(3), key32(5), key32(9)}, keys)
	})
}

func TestStorageEngineRoots(t *testing.T) {
	eng := newTestEngine(t)
	logctx := NewLoggerContextTodoForTesting(t)

	run(t, eng, func(tx *sqlx.Tx) {
		_, err := eng.LookupLatestRoot(logctx, tx)
		require.IsType(t, cmt.NoLatestRootFoundError{}, err)
	})

	run(t, eng, func(tx *sqlx.Tx) {
		for i := 1; i <= 3; i++ {
			md := cmt.RootMetadata{
				RootVersion: cmt.CurrentRootVersion,
				Seqno:       cmt.Seqno(i),
				RootHash:    make([]byte, 32),
				NodeCount:   uint64(i),
				HasherId:    cmt.HasherSHA256,
			}
			require.NoError(t, eng.StoreRoot(logctx, tx, md))
		}
	})

	run(t, eng, func(tx *sqlx.Tx) {
		latest, err := eng.LookupLatestRoot(logctx, tx)
		require.NoError(t, err)
		require.Equal(t, cmt.Seqno(3), latest.Seqno)

		md, err := eng.LookupRoot(logctx, tx, cmt.Seqno(2))
		require.NoError(t, err)
		require.EqualValues(t, 2, md.NodeCount)

		_, err = eng.LookupRoot(logctx, tx, cmt.Seqno(9))
		require.IsType(t, cmt.InvalidSeqnoError{}, err)
	})
}

func TestStorageEngineBackedTree(t *testing.T) {
	eng := newTestEngine(t)
	logctx := NewLoggerContextTodoForTesting(t)

	cfg := newTestConfig(t)
	tree, err := cmt.NewTree(cfg, eng)
	require.NoError(t, err)
	verifier := cmt.NewProofVerifier(cfg)

	for n := uint64(1); n <= 60; n++ {
		run(t, eng, func(tx *sqlx.Tx) {
			require.NoError(t, tree.Add(logctx, tx, key32(n)))
		})
	}
	run(t, eng, func(tx *sqlx.Tx) {
		require.NoError(t, tree.CheckInvariants(logctx, tx))
		for _, n := range []uint64{1, 30, 60} {
			p, err := tree.GetProof(logctx, tx, key32(n), 0)
			require.NoError(t, err)
			require.True(t, p.Existence)
			require.True(t, verifier.VerifyProof(p))
		}
		p, err := tree.GetProof(logctx, tx, key32(100), 0)
		require.NoError(t, err)
		require.False(t, p.Existence)
		require.True(t, verifier.VerifyProof(p))
	})

	for n := uint64(10); n <= 30; n += 5 {
		run(t, eng, func(tx *sqlx.Tx) {
			require.NoError(t, tree.Remove(logctx, tx, key32(n)))
		})
	}
	run(t, eng, func(tx *sqlx.Tx) {
		require.NoError(t, tree.CheckInvariants(logctx, tx))
	})

	// A second Tree instance over the same engine resumes from the stored
	// root and agrees on everything.
	var reopened *cmt.Tree
	run(t, eng, func(tx *sqlx.Tx) {
		reopened, err = cmt.NewTreeFromStore(logctx, tx, cfg, eng)
		require.NoError(t, err)
	})
	require.Equal(t, tree.GetRoot(), reopened.GetRoot())
	require.Equal(t, tree.Seqno(), reopened.Seqno())
	require.Equal(t, tree.Count(), reopened.Count())

	run(t, eng, func(tx *sqlx.Tx) {
		treeKeys, err := reopened.Keys(logctx, tx)
		require.NoError(t, err)
		indexKeys, err := eng.LookupAllKeys(logctx, tx)
		require.NoError(t, err)
		require.Equal(t, treeKeys, indexKeys)
	})
}
