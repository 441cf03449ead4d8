package packet

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// WriteDocsJSONL writes one DocChunk per line to path, LF-terminated, UTF-8,
// no HTML escaping, in the order given (the caller is responsible for
// ordering chunks by (relpath, per-file counter)).
func WriteDocsJSONL(path string, chunks []DocChunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("packet: encode chunk %q: %w", c.ID, err)
		}
	}
	return writeFileAtomic(path, buf.Bytes(), 0o644)
}

// ReadDocsJSONL reads docs.jsonl back into an ordered slice of DocChunk;
// row index i of the returned slice corresponds to row i of vectors.f16.bin
// per invariant 1.
func ReadDocsJSONL(path string) ([]DocChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []DocChunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var c DocChunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("packet: decode docs.jsonl line: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}
