package main

import (
	"flag"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Compacts a node store's leveldb directory and reports how many node
// records survive. Useful after heavy churn, since freed nodes leave
// deletion markers behind.

func mainInner() error {
	dbPtr := flag.String("db", "", "leveldb directory of a node store")
	flag.Parse()

	if *dbPtr == "" {
		return fmt.Errorf("need --db")
	}

	ldb, err := leveldb.OpenFile(*dbPtr, nil)
	if err != nil {
		return err
	}
	defer ldb.Close()

	err = ldb.CompactRange(util.Range{})
	if err != nil {
		return err
	}

	count := 0
	iter := ldb.NewIterator(util.BytesPrefix([]byte("n")), nil)
	for iter.Next() {
		count++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	fmt.Printf("%d node records after compaction\n", count)

	return nil
}

func main() {
	err := mainInner()
	if err != nil {
		panic(err.Error())
	}
}
