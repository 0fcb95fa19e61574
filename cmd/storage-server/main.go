package main

import (
	"log"
	"net/http"
	"os"

	"github.com/goshawk-3/storage-server/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: storage-server <listen_addr>")
	}
	addr := os.Args[1]

	dbPath := getenv("STORAGE_SERVER_DB", "storage-server.db")
	store, err := server.OpenStore(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	state := server.NewState(store)
	if err := state.LoadFromStore(); err != nil {
		log.Fatal(err)
	}

	srv := server.NewServer(state)
	log.Printf("storage-server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, srv.Routes()))
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
