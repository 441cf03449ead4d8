package oci

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// extractPayloadArchive unpacks a tar+gzip payload blob into destDir, one
// entry at a time, running each entry's name through SafeOutputPath so no
// entry can escape destDir via "..", an absolute path, or a symlink target.
func extractPayloadArchive(blob []byte, destDir string) error {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("oci: open payload archive: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("oci: read payload archive: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			outPath, err := SafeOutputPath(destDir, hdr.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			outPath, err := SafeOutputPath(destDir, hdr.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			if err := writeArchiveEntry(outPath, tr); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return &LookupError{Kind: LookupPathUnsafe, Err: fmt.Errorf("payload archive entry %q is a link, rejected", hdr.Name)}
		default:
			// char/block devices, fifos, etc: not a shape the builder ever
			// produces, ignored rather than rejected outright.
		}
	}
}

func writeArchiveEntry(outPath string, r io.Reader) error {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
