package worklist

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"steamharvest/internal/domain"
)

var appURLExpr = regexp.MustCompile(`/app/(\d+)`)

// discoveryEntry is one row of the crawler's JSON artifact.
type discoveryEntry struct {
	Name string `json:"Nom"`
	URL  string `json:"URL"`
}

// Load reads the discovery artifact and returns the sorted unique work
// items plus the blake3 digest of the raw bytes. Two shapes are accepted:
// one numeric app id per line, or a JSON array of {"Nom", "URL"} entries
// whose ids are embedded in store URLs. A missing, empty or unparseable
// artifact is an error; harvesting never invents its own catalog.
func Load(path, storeBaseURL string) ([]domain.WorkItem, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read work list %s: %w", path, err)
	}

	sum := blake3.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	var items []domain.WorkItem
	if looksLikeJSON(raw) {
		items, err = parseDiscoveryJSON(raw)
	} else {
		items, err = parseIDLines(raw, storeBaseURL)
	}
	if err != nil {
		return nil, "", fmt.Errorf("parse work list %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, "", fmt.Errorf("work list %s holds no items", path)
	}

	items = dedupe(items)
	sort.Slice(items, func(i, j int) bool { return items[i].AppID < items[j].AppID })

	return items, digest, nil
}

func looksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func parseIDLines(raw []byte, storeBaseURL string) ([]domain.WorkItem, error) {
	base := strings.TrimRight(storeBaseURL, "/")

	var items []domain.WorkItem
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("line %d: %q is not an app id", lineNo, line)
		}
		items = append(items, domain.WorkItem{
			AppID:    id,
			StoreURL: fmt.Sprintf("%s/app/%d/", base, id),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}

	return items, nil
}

// parseDiscoveryJSON extracts app ids from store URLs. Entries pointing at
// bundle or package pages carry no /app/<id> segment and are ignored.
func parseDiscoveryJSON(raw []byte) ([]domain.WorkItem, error) {
	var entries []discoveryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode discovery array: %w", err)
	}

	var items []domain.WorkItem
	for _, entry := range entries {
		match := appURLExpr.FindStringSubmatch(entry.URL)
		if match == nil {
			continue
		}
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		items = append(items, domain.WorkItem{AppID: id, StoreURL: entry.URL})
	}

	return items, nil
}

func dedupe(items []domain.WorkItem) []domain.WorkItem {
	seen := make(map[int64]bool, len(items))
	unique := make([]domain.WorkItem, 0, len(items))
	for _, item := range items {
		if seen[item.AppID] {
			continue
		}
		seen[item.AppID] = true
		unique = append(unique, item)
	}
	return unique
}
