package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

// The checkpoint sidecar <output>.ids lists every app id whose record has
// been durably appended to the output store, one id per line.

func idsPathFor(outputPath string) string {
	return outputPath + ".ids"
}

func readIDsSidecar(path string) (map[int64]bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[int64]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	ids := map[int64]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, parseErr := strconv.ParseInt(line, 10, 64)
		if parseErr != nil {
			continue
		}
		ids[id] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint %s: %w", path, err)
	}

	return ids, nil
}

// scanOutputIDs walks the JSONL output store and returns every persisted id
// together with the byte offset where the last complete line ends. Bytes
// past that offset belong to a partial line from an interrupted append.
func scanOutputIDs(path string) (map[int64]bool, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[int64]bool{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open output %s: %w", path, err)
	}
	defer f.Close()

	ids := map[int64]bool{}
	reader := bufio.NewReader(f)
	var validEnd int64
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("scan output %s: %w", path, err)
		}

		var row struct {
			AppID int64 `json:"app_id"`
		}
		if jsonErr := json.Unmarshal(line, &row); jsonErr == nil && row.AppID > 0 {
			ids[row.AppID] = true
		}
		validEnd += int64(len(line))
	}

	return ids, validEnd, nil
}

func appendIDs(path string, ids []int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, id := range ids {
		if _, err := w.WriteString(strconv.FormatInt(id, 10) + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write checkpoint %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush checkpoint %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync checkpoint %s: %w", path, err)
	}

	return f.Close()
}

// rewriteIDsSidecar atomically replaces the sidecar with the given id set.
func rewriteIDsSidecar(path string, ids map[int64]bool) error {
	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create checkpoint temp %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	for _, id := range sorted {
		if _, err := w.WriteString(strconv.FormatInt(id, 10) + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write checkpoint temp %s: %w", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush checkpoint temp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync checkpoint temp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint %s: %w", path, err)
	}
	return nil
}

func sameIDSet(a, b map[int64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
