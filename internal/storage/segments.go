package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SegFileName returns segment file name:
//   - seg 0: base
//   - seg N>0: base.N
func SegFileName(base string, segNo int32) string {
	if segNo <= 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, segNo)
}

// listSegmentsLocal scans dir and returns all segment numbers for base.
// It matches: base and base.<int>.
func listSegmentsLocal(dir, base string) ([]int32, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	segs := make([]int32, 0)
	prefix := base + "."

	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == base {
			segs = append(segs, 0)
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n64, err := strconv.ParseInt(strings.TrimPrefix(name, prefix), 10, 32)
		if err != nil || n64 <= 0 {
			continue
		}
		segs = append(segs, int32(n64))
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

// RemoveAllSegments removes base, base.1, base.2, ... in dir.
func RemoveAllSegments(dir, base string) error {
	segs, err := listSegmentsLocal(dir, base)
	if err != nil {
		return err
	}
	for _, segNo := range segs {
		path := filepath.Join(dir, SegFileName(base, segNo))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
