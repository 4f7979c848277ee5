package main

import (
	"github.com/dl-solarity/cartesian-merkle-go/cmt"
	"github.com/dl-solarity/cartesian-merkle-go/storage"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func inner() error {
	cfg, err := cmt.NewSaltedConfig(32, 0, cmt.HasherSHA256)
	if err != nil {
		return err
	}

	// db, err := sqlx.Connect("sqlite3", "file:test.db")
	db, err := sqlx.Open("postgres", "user=foo dbname=cmt sslmode=disable")
	if err != nil {
		return err
	}

	treeId := []byte{1, 2, 3}

	eng, err := storage.NewNodeStorageEngine(db, "db/lev", cfg, treeId)
	if err != nil {
		return err
	}

	return eng.Reset()
}

func main() {
	err := inner()
	if err != nil {
		panic(err)
	}
}
