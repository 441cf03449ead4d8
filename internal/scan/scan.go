// Package scan walks a source tree deterministically for the builder's
// scan phase.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// File is one accepted source file: its POSIX-relative path and decoded
// UTF-8 text.
type File struct {
	RelPath string
	Ext     string
	Text    string
}

// Result is the scan phase's output.
type Result struct {
	Files           []File
	ExtFrequencies  map[string]int
	SkippedEmpty    int
	SkippedNonUTF8  int
	SkippedExt      int
}

// Walk scans root, accepting files whose extension is in supportedExts,
// skipping files that fail to decode as UTF-8 and files that are empty.
// File ordering is deterministic: sorted by byte-lexicographic POSIX
// relative path.
func Walk(root string, supportedExts map[string]bool) (Result, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	sort.Strings(paths)

	res := Result{ExtFrequencies: map[string]int{}}
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return Result{}, err
		}
		rel = filepath.ToSlash(rel)

		ext := strings.ToLower(filepath.Ext(rel))
		if !supportedExts[ext] {
			res.SkippedExt++
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return Result{}, err
		}
		if len(data) == 0 {
			res.SkippedEmpty++
			continue
		}
		text, ok := decodeUTF8Permissive(data)
		if !ok {
			res.SkippedNonUTF8++
			continue
		}

		res.Files = append(res.Files, File{RelPath: rel, Ext: ext, Text: text})
		res.ExtFrequencies[ext]++
	}
	return res, nil
}

// decodeUTF8Permissive accepts valid UTF-8 outright; for input with a
// BOM it strips it before the validity check. Content that does not
// decode as UTF-8 at all is rejected (the scan phase skips it).
func decodeUTF8Permissive(data []byte) (string, bool) {
	data = stripBOM(data)
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func stripBOM(data []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(data) >= 3 && string(data[:3]) == bom {
		return data[3:]
	}
	return data
}
