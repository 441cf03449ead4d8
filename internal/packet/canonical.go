package packet

import (
	"bytes"
	"encoding/json"
	"os"
)

// CanonicalJSON serializes v as compact, deterministic JSON: no HTML
// escaping, map keys sorted (encoding/json's native behavior for map
// values), and exactly one trailing LF, no other whitespace. This is the
// wire shape used for manifest.json, cpm.lock.json, and the OCI metadata
// blob.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode already appends exactly one '\n'.
	return buf.Bytes(), nil
}

// WriteCanonicalJSONFile writes v to path atomically: encode to a
// "<path>.tmp" sibling, then rename, so readers never observe a partial
// file.
func WriteCanonicalJSONFile(path string, v any) error {
	data, err := CanonicalJSON(v)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
