package server

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dl-solarity/cartesian-merkle-go/cmt"
	"github.com/dl-solarity/cartesian-merkle-go/logger"
	"github.com/dl-solarity/cartesian-merkle-go/storage"
)

// Server exposes one Cartesian Merkle tree over net/rpc. Mutations are
// serialized by the tree itself; proof generation runs concurrently.
type Server struct {
	cfg  cmt.Config
	tree *cmt.Tree
	ctx  logger.ContextInterface
}

// run wraps f in a sql transaction when the underlying store needs one.
func (s *Server) run(f func(tx *sqlx.Tx) error) error {
	switch eng := s.tree.Eng().(type) {
	case *storage.NodeStorageEngine:
		tx := eng.Tx()
		err := f(tx)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	default:
		return f(nil)
	}
}

func NewConfig() (cmt.Config, error) {
	return cmt.NewSaltedConfig(32, 0, cmt.HasherSHA256)
}

func NewServer(ctx logger.ContextInterface, cfg cmt.Config, eng cmt.NodeStore) (*Server, error) {
	s := &Server{cfg: cfg, ctx: ctx}
	switch e := eng.(type) {
	case *storage.NodeStorageEngine:
		tx := e.Tx()
		tree, err := cmt.NewTreeFromStore(ctx, tx, cfg, eng)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.tree = tree
	default:
		tree, err := cmt.NewTreeFromStore(ctx, nil, cfg, eng)
		if err != nil {
			return nil, err
		}
		s.tree = tree
	}
	return s, nil
}

func newPostgresEngine(cfg cmt.Config, treeId []byte) (*storage.NodeStorageEngine, error) {
	db, err := sqlx.Open("postgres", "user=foo dbname=cmt sslmode=disable")
	if err != nil {
		return nil, err
	}
	return storage.NewNodeStorageEngine(db, "db/lev", cfg, treeId)
}

func NewServerWithPostgres(ctx logger.ContextInterface, treeId []byte) (*Server, error) {
	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}
	eng, err := newPostgresEngine(cfg, treeId)
	if err != nil {
		return nil, err
	}
	// A tree that already has committed roots keeps its stored salt and
	// hasher; the fresh ones in cfg only matter for a brand-new tree.
	return NewServer(ctx, cfg, eng)
}

func (s *Server) logctx() logger.ContextInterface {
	return s.ctx.UpdateContextToLoggerContext(context.TODO())
}

type AddArg struct {
	Keys [][]byte
}
type AddRet struct {
	Seqno cmt.Seqno
	Root  []byte
}

// Add inserts the given keys one committed mutation each, so a duplicate in
// the middle of the batch leaves the earlier inserts in place.
func (s *Server) Add(arg AddArg, ret *AddRet) error {
	ctx := s.logctx()
	for _, k := range arg.Keys {
		err := s.run(func(tx *sqlx.Tx) error {
			return s.tree.Add(ctx, tx, cmt.Key(k))
		})
		if err != nil {
			return err
		}
	}
	ret.Seqno = s.tree.Seqno()
	ret.Root = s.tree.GetRoot()
	return nil
}

type RemoveArg struct {
	Keys [][]byte
}
type RemoveRet struct {
	Seqno cmt.Seqno
	Root  []byte
}

func (s *Server) Remove(arg RemoveArg, ret *RemoveRet) error {
	ctx := s.logctx()
	for _, k := range arg.Keys {
		err := s.run(func(tx *sqlx.Tx) error {
			return s.tree.Remove(ctx, tx, cmt.Key(k))
		})
		if err != nil {
			return err
		}
	}
	ret.Seqno = s.tree.Seqno()
	ret.Root = s.tree.GetRoot()
	return nil
}

type ContainsArg struct {
	Key []byte
}
type ContainsRet struct {
	Present bool
}

func (s *Server) Contains(arg ContainsArg, ret *ContainsRet) error {
	ctx := s.logctx()
	return s.run(func(tx *sqlx.Tx) error {
		present, err := s.tree.Contains(ctx, tx, cmt.Key(arg.Key))
		if err != nil {
			return err
		}
		ret.Present = present
		return nil
	})
}

type QueryArg struct {
	Keys           [][]byte
	MinProofLength uint32
}
type QueryRet struct {
	Seqno        cmt.Seqno
	Root         []byte
	Proofs       [][]byte
	Total        time.Duration
	RetBandwidth int
}

// Query builds an inclusion or exclusion proof for every requested key
// against the current root. Proofs are generated concurrently; proof reads
// never touch the sql side, so they share one transaction safely.
func (s *Server) Query(arg QueryArg, ret *QueryRet) error {
	ctx := s.logctx()
	start := time.Now()

	ret.Proofs = make([][]byte, len(arg.Keys))
	err := s.run(func(tx *sqlx.Tx) error {
		g := new(errgroup.Group)
		for i, k := range arg.Keys {
			i, k := i, k
			g.Go(func() error {
				p, err := s.tree.GetProof(ctx, tx, cmt.Key(k), arg.MinProofLength)
				if err != nil {
					return err
				}
				buf, err := p.Marshal(s.cfg.KeysByteLength)
				if err != nil {
					return err
				}
				ret.Proofs[i] = buf
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return err
	}

	ret.Seqno = s.tree.Seqno()
	ret.Root = s.tree.GetRoot()
	ret.Total = time.Since(start)
	bw, err := measureBandwidth(ret)
	if err != nil {
		return err
	}
	ret.RetBandwidth = bw
	return nil
}

type RootArg struct {
	// Seqno 0 asks for the latest committed root.
	Seqno cmt.Seqno
}
type RootRet struct {
	Metadata cmt.RootMetadata
}

func (s *Server) Root(arg RootArg, ret *RootRet) error {
	ctx := s.logctx()
	return s.run(func(tx *sqlx.Tx) error {
		var md cmt.RootMetadata
		var err error
		if arg.Seqno == 0 {
			md, err = s.tree.Eng().LookupLatestRoot(ctx, tx)
		} else {
			md, err = s.tree.Eng().LookupRoot(ctx, tx, arg.Seqno)
		}
		if err != nil {
			return err
		}
		ret.Metadata = md
		return nil
	})
}

func measureBandwidth(x interface{}) (int, error) {
	var network bytes.Buffer
	enc := gob.NewEncoder(&network)
	err := enc.Encode(x)
	if err != nil {
		return 0, err
	}
	return network.Len(), nil
}

// RunServer starts an in-memory-backed server on an ephemeral port and
// returns a connected client, for benchmarks and ad hoc experiments.
func RunServer(ctx logger.ContextInterface) (*rpc.Client, error) {
	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}
	s, err := NewServer(ctx, cfg, cmt.NewInMemoryNodeStore())
	if err != nil {
		return nil, err
	}

	srv := rpc.NewServer()
	if err := srv.Register(s); err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, errors.Wrap(err, "listening")
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, srv)
	go func() {
		_ = http.Serve(listener, mux)
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return rpc.DialHTTP("tcp", fmt.Sprintf("localhost:%d", addr.Port))
}
