// Command casgc maintains the CAS chunk-hash index standalone, outside
// the daemon's own periodic sweep: it reconciles the index against the
// published files under root-dir (so entries survive an index rebuilt
// from an empty db) and then runs the same age-based GC the daemon
// schedules on a timer.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/filewire/transferd/internal/store"
)

func main() {
	dbPath := flag.String("db", "cas.db", "path to the CAS bolt database")
	rootDir := flag.String("root-dir", "", "published-file root directory to reconcile before GC (optional)")
	chunkSize := flag.Uint("chunk-size", store.DefaultChunkSize, "chunk size used to hash root-dir content")
	maxAge := flag.Duration("max-age", 24*time.Hour, "entries older than this are removed")
	flag.Parse()

	cas, err := store.OpenCAS(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "casgc: open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer cas.Close()

	if *rootDir != "" {
		seeded, known, err := reconcile(cas, *rootDir, uint32(*chunkSize))
		if err != nil {
			fmt.Fprintf(os.Stderr, "casgc: reconcile %s: %v\n", *rootDir, err)
			os.Exit(1)
		}
		fmt.Printf("reconciled %s: %d chunks already known, %d newly recorded\n", *rootDir, known, seeded)
	}

	removed, err := cas.GC(*maxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "casgc: gc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("CAS GC removed %d entries older than %s\n", removed, maxAge.String())
}

// reconcile walks every published file under rootDir and records any
// chunk hash the index doesn't already have, so a CAS database that
// was deleted or created after files were already published still
// reflects what is actually on disk.
func reconcile(cas *store.CAS, rootDir string, chunkSize uint32) (seeded, known int, err error) {
	st := store.New(rootDir)
	walkErr := st.Walk(func(relPath string, info os.FileInfo) error {
		f, err := os.Open(filepath.Join(rootDir, relPath))
		if err != nil {
			return err
		}
		defer f.Close()

		buf := make([]byte, chunkSize)
		for {
			n, readErr := io.ReadFull(f, buf)
			if n > 0 {
				hash := store.HashOf(buf[:n])
				if cas.Has(hash) {
					known++
				} else {
					if putErr := cas.Put(hash); putErr != nil {
						return putErr
					}
					seeded++
				}
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return nil
			}
			if readErr != nil {
				return readErr
			}
		}
	})
	return seeded, known, walkErr
}
