package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net/rpc"
	"os"
	"runtime/pprof"
	"time"

	"github.com/dl-solarity/cartesian-merkle-go/cmt"
	"github.com/dl-solarity/cartesian-merkle-go/logger"
	"github.com/dl-solarity/cartesian-merkle-go/server"

	_ "github.com/lib/pq"
)

// Drives a tree server with random keys and reports add and proof
// latencies. With -remote adhoc an in-memory-backed server is started in
// process, which isolates the tree cost from the storage cost.

func toMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func randomKeys(n int) ([][]byte, error) {
	keys := make([][]byte, n)
	for i := range keys {
		k := make([]byte, 32)
		if _, err := rand.Read(k); err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

func mainInner() error {
	remotePtr := flag.String("remote", "adhoc", "server address, or 'adhoc'")
	nKeysPtr := flag.Int("n", 10000, "number of keys to insert")
	batchPtr := flag.Int("batch", 100, "keys per add call")
	queriesPtr := flag.Int("queries", 1000, "number of proof queries")
	cpuProfilePtr := flag.String("cpuprofile", "", "cpu profile file")
	flag.Parse()

	if *cpuProfilePtr != "" {
		f, err := os.Create(*cpuProfilePtr)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx := logger.NewContext(context.TODO(), logger.NewNull())

	var cli *rpc.Client
	var err error
	if *remotePtr == "adhoc" {
		cli, err = server.RunServer(ctx)
	} else {
		cli, err = rpc.DialHTTP("tcp", *remotePtr)
	}
	if err != nil {
		return err
	}

	keys, err := randomKeys(*nKeysPtr)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := 0; i < len(keys); i += *batchPtr {
		end := i + *batchPtr
		if end > len(keys) {
			end = len(keys)
		}
		var ret server.AddRet
		if err := cli.Call("Server.Add", server.AddArg{Keys: keys[i:end]}, &ret); err != nil {
			return err
		}
	}
	addTotal := time.Since(start)
	fmt.Printf("add: %d keys in %.1fms (%.3fms/key)\n",
		len(keys), toMs(addTotal), toMs(addTotal)/float64(len(keys)))

	queryKeys, err := randomKeys(*queriesPtr / 2)
	if err != nil {
		return err
	}
	for i := 0; i < *queriesPtr/2 && i < len(keys); i++ {
		queryKeys = append(queryKeys, keys[i])
	}

	start = time.Now()
	var qret server.QueryRet
	if err := cli.Call("Server.Query", server.QueryArg{Keys: queryKeys}, &qret); err != nil {
		return err
	}
	queryTotal := time.Since(start)

	var proofBytes int
	var longest int
	for _, buf := range qret.Proofs {
		proofBytes += len(buf)
		p, err := cmt.UnmarshalProof(32, buf)
		if err != nil {
			return err
		}
		if len(p.Siblings) > longest {
			longest = len(p.Siblings)
		}
	}
	fmt.Printf("query: %d proofs in %.1fms (server %.1fms), %d proof bytes, longest %d siblings\n",
		len(queryKeys), toMs(queryTotal), toMs(qret.Total), proofBytes, longest)

	return nil
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
