package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// CompressFile writes a zstd-compressed copy of srcPath to dstPath.
func CompressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	defer func() { _ = src.Close() }()

	return writeFile(dstPath, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("compress: encoder: %w", err)
		}
		if _, err := enc.ReadFrom(src); err != nil {
			_ = enc.Close()
			return fmt.Errorf("compress: %w", err)
		}
		return enc.Close()
	})
}

// DecompressStream writes the decoded zstd stream r to dstPath.
func DecompressStream(r io.Reader, dstPath string) error {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("decompress: decoder: %w", err)
	}
	defer dec.Close()

	return writeFile(dstPath, func(w io.Writer) error {
		if _, err := dec.WriteTo(w); err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		return nil
	})
}

// writeFile creates path and hands it to fill. The file is synced on success
// and removed when fill fails, so no half-written copy is left behind.
func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	err = fill(f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}
