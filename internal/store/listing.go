package store

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/filewire/transferd/internal/wire"
)

// List returns directory entries under relPath, filtered by filter, for
// a ListRequest (spec §4.3's listing operation). Entries are sorted by
// name for deterministic output.
func (s *Store) List(relPath string, filter wire.ListFilter) ([]wire.ListRecord, error) {
	abs, err := s.ResolvePath(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	records := make([]wire.ListRecord, 0, len(entries))
	for _, e := range entries {
		isDir := e.IsDir()
		if filter == wire.FilterFilesOnly && isDir {
			continue
		}
		if filter == wire.FilterDirsOnly && !isDir {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		records = append(records, wire.ListRecord{
			IsDir: isDir,
			Size:  uint64(info.Size()),
			Mtime: uint64(info.ModTime().Unix()),
			Name:  e.Name(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Nlst returns only the plain names under relPath, filtered by filter,
// for an NlstRequest.
func (s *Store) Nlst(relPath string, filter wire.ListFilter) ([]string, error) {
	records, err := s.List(relPath, filter)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}

// Walk is a convenience used by audit/CAS tooling to enumerate every
// published regular file under the store root.
func (s *Store) Walk(fn func(relPath string, info os.FileInfo) error) error {
	root := filepath.Clean(s.RootDir)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}
