package client

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ScanDir lists every regular file directly inside dir (no recursion) as
// (logical_name, local_path) pairs, the unit the interactive menu's
// "upload all" command hands to UploadBatch.
func ScanDir(dir string) ([]FileRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("client: scan source dir: %w", err)
	}

	var refs []FileRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refs = append(refs, FileRef{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	return refs, nil
}

// RunMenu drives the interactive command loop: show bucket id, list
// source files, upload all, download by index, list downloaded, exit.
func RunMenu(ctx context.Context, app *App, sourceDir string, in *bufio.Scanner, out *os.File) {
	for {
		fmt.Fprint(out, "\n[1] show bucket id  [2] list source files  [3] upload all  [4] download by index  [5] list downloaded  [6] exit\n> ")
		if !in.Scan() {
			return
		}
		switch strings.TrimSpace(in.Text()) {
		case "1":
			fmt.Fprintln(out, app.BucketIDHex())
		case "2":
			refs, err := ScanDir(sourceDir)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			for _, r := range refs {
				fmt.Fprintln(out, r.Name)
			}
		case "3":
			refs, err := ScanDir(sourceDir)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if err := app.UploadBatch(ctx, refs); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "4":
			fmt.Fprint(out, "index> ")
			if !in.Scan() {
				return
			}
			idx, err := strconv.Atoi(strings.TrimSpace(in.Text()))
			if err != nil {
				fmt.Fprintln(out, "invalid index")
				continue
			}
			if err := app.Download(ctx, idx); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "5":
			refs, err := ScanDir(app.DownloadDir)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			for _, r := range refs {
				fmt.Fprintln(out, r.Name)
			}
		case "6":
			return
		default:
			fmt.Fprintln(out, "unrecognized command")
		}
	}
}
