// Command refcheck is a stand-in verifier for sites without face recognition.
//
//	refcheck <identifier> <referenceDir>
//
// It passes when a non-empty reference image for the identifier exists, using
// the same exit codes as the recognition program: 0 verified, 1 rejected,
// 2 usage or I/O error.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	exitVerified = 0
	exitRejected = 1
	exitError    = 2
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".bmp"}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "usage: refcheck <identifier> <referenceDir>")
		return exitError
	}
	id, dir := args[0], args[1]

	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		fmt.Fprintf(stderr, "refcheck: invalid identifier %q\n", id)
		return exitError
	}

	info, err := os.Stat(dir)
	if err != nil {
		fmt.Fprintf(stderr, "refcheck: %v\n", err)
		return exitError
	}
	if !info.IsDir() {
		fmt.Fprintf(stderr, "refcheck: %s is not a directory\n", dir)
		return exitError
	}

	path, err := findReference(dir, id)
	switch {
	case err == nil:
		fmt.Fprintf(stdout, "match %s\n", path)
		return exitVerified
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(stdout, "no reference image for %s\n", id)
		return exitRejected
	default:
		fmt.Fprintf(stderr, "refcheck: %v\n", err)
		return exitError
	}
}

// findReference returns the first non-empty regular image named id with a
// known extension. Extensions match case-insensitively.
func findReference(dir, id string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	for _, ext := range imageExts {
		for _, e := range entries {
			name := e.Name()
			if !strings.EqualFold(name, id+ext) || strings.TrimSuffix(name, filepath.Ext(name)) != id {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return "", err
			}
			if info.Mode().IsRegular() && info.Size() > 0 {
				return filepath.Join(dir, name), nil
			}
		}
	}
	return "", fs.ErrNotExist
}
