package packet

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ArchiveFormat selects the packet archive's container format.
type ArchiveFormat string

const (
	ArchiveTarGz ArchiveFormat = "tar.gz"
	ArchiveZip   ArchiveFormat = "zip"
)

// ArchivePacketDir writes destDir's contents into a single archive file at
// archivePath, using klauspost/compress's gzip implementation for the
// tar.gz case. Archiving is an optional final packaging step.
func ArchivePacketDir(destDir, archivePath string, format ArchiveFormat) error {
	switch format {
	case ArchiveZip:
		return archiveZip(destDir, archivePath)
	case ArchiveTarGz, "":
		return archiveTarGz(destDir, archivePath)
	default:
		return fmt.Errorf("packet: unsupported archive format %q", format)
	}
}

func archiveTarGz(destDir, archivePath string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	base := filepath.Base(filepath.Clean(destDir))
	return filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}
		if info.IsDir() {
			if rel == "." {
				return nil
			}
			hdr := &tar.Header{Name: name + "/", Mode: 0o755, Typeflag: tar.TypeDir}
			return tw.WriteHeader(hdr)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
}

func archiveZip(destDir, archivePath string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	base := filepath.Base(filepath.Clean(destDir))
	return filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))
		w, err := zw.Create(strings.TrimPrefix(name, "/"))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
}
