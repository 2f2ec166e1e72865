package db

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"lsmkv/format"
)

// ErrCorruptRoot is returned when the root file's version tag or layout is
// invalid.
var ErrCorruptRoot = errors.New("db: corrupt root file")

// readRootFile reads the master table's segment path list from path,
// version(8) || master_segment_count(i64) || (len(u8) || path)*. A missing
// file is created fresh (version tag only, zero segments) rather than
// treated as an error.
func readRootFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := writeRootFile(path, nil); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, fmt.Errorf("db: read root %s: %w", path, err)
	}
	if len(data) < format.VersionTagSize+8 {
		return nil, fmt.Errorf("db: root %s: %w", path, ErrCorruptRoot)
	}
	var tag [format.VersionTagSize]byte
	copy(tag[:], data[:format.VersionTagSize])
	if tag != format.VersionTag {
		return nil, fmt.Errorf("db: root %s: %w", path, ErrCorruptRoot)
	}
	rest := data[format.VersionTagSize:]
	n := binary.LittleEndian.Uint64(rest[:8])
	rest = rest[8:]
	paths := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(rest) < 1 {
			return nil, fmt.Errorf("db: root %s: %w", path, ErrCorruptRoot)
		}
		l := int(rest[0])
		rest = rest[1:]
		if len(rest) < l {
			return nil, fmt.Errorf("db: root %s: %w", path, ErrCorruptRoot)
		}
		paths = append(paths, string(rest[:l]))
		rest = rest[l:]
	}
	return paths, nil
}

// writeRootFile rewrites the root file via a temp-file-then-rename so a
// crash mid-write can never leave a half-written root file.
func writeRootFile(path string, segmentPaths []string) error {
	var buf bytes.Buffer
	buf.Write(format.VersionTag[:])
	var nBuf [8]byte
	binary.LittleEndian.PutUint64(nBuf[:], uint64(len(segmentPaths)))
	buf.Write(nBuf[:])
	for _, p := range segmentPaths {
		buf.WriteByte(byte(len(p)))
		buf.WriteString(p)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("db: write root %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("db: write root %s: %w", path, err)
	}
	return nil
}
