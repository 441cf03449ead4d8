package packet

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// ComputeChecksums hashes each named relative file under root and returns
// the manifest.checksums map. Missing files (e.g. vectors/index on a
// partial build) are silently skipped — the caller controls which names to
// pass.
func ComputeChecksums(root string, relNames []string) (map[string]ChecksumEntry, error) {
	out := make(map[string]ChecksumEntry, len(relNames))
	for _, name := range relNames {
		sum, err := FileSHA256Hex(filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out[name] = ChecksumEntry{Algo: "sha256", Value: sum}
	}
	return out, nil
}
