package main

import (
	"bufio"
	"context"
	"log"
	"os"

	"github.com/goshawk-3/storage-server/internal/client"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: storage-client <server_url> <source_dir>")
	}
	serverURL := os.Args[1]
	sourceDir := os.Args[2]

	statePath := getenv("STORAGE_CLIENT_STATE", "storage-client.state")
	downloadDir := getenv("STORAGE_CLIENT_DOWNLOAD_DIR", "local_repo")

	app, err := client.NewApp(serverURL, statePath, downloadDir)
	if err != nil {
		log.Fatal(err)
	}

	client.RunMenu(context.Background(), app, sourceDir, bufio.NewScanner(os.Stdin), os.Stdout)
	os.Exit(0)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
