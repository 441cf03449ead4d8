package packet

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of text.
func SHA256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FoldSHA256 is a domain-separated fold used for packet_id, the embedding
// fingerprint, and other composite identities. It is simply SHA256Hex over
// the caller-already-separated string; kept as a distinct name so call
// sites document intent.
func FoldSHA256(s string) string {
	return SHA256Hex(s)
}

// FileSHA256Hex streams a file's contents through SHA-256 in fixed-size
// chunks, matching the reference implementation's 1 MiB read loop.
func FileSHA256Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := bufio.NewReaderSize(f, 1<<20)
	if _, err := io.Copy(h, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
