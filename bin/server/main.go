package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/rpc"

	"github.com/dl-solarity/cartesian-merkle-go/logger"
	"github.com/dl-solarity/cartesian-merkle-go/server"

	_ "net/http/pprof"

	_ "github.com/lib/pq"
)

func mainInner() error {
	treeIdPtr := flag.String("treeId", "testtree", "tree id")
	portPtr := flag.Int("port", 3030, "port")
	debugPtr := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	log := logger.New("server", *debugPtr)
	ctx := logger.NewContext(context.TODO(), log)
	s, err := server.NewServerWithPostgres(ctx, []byte(*treeIdPtr))
	if err != nil {
		return err
	}

	if err := rpc.Register(s); err != nil {
		return err
	}
	rpc.HandleHTTP()

	go func() {
		_ = http.ListenAndServe("localhost:6060", nil)
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *portPtr))
	if err != nil {
		return err
	}

	fmt.Println("Starting server...")
	return http.Serve(listener, nil)
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
