package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

// Split names.
const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

// Splits lists the corpus partitions in canonical order.
var Splits = []string{Train, Val, Test}

// ErrSplitOverlap is returned when an identifier appears in more than one split.
var ErrSplitOverlap = errors.New("split overlap")

// ReadSplit reads one identifier per line from path. Blank lines are ignored
// and surrounding whitespace is trimmed. A missing file wraps
// config.ErrPathMissing; a malformed line wraps patch.ErrMalformedIdentifier
// and names the line number.
func ReadSplit(path string) ([]patch.Identifier, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: split file not found: %s", config.ErrPathMissing, path)
		}
		return nil, fmt.Errorf("failed to open split file: %w", err)
	}
	defer f.Close()

	var ids []patch.Identifier
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		id, err := patch.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read split file %s: %w", path, err)
	}
	return ids, nil
}

// CheckDisjoint returns an ErrSplitOverlap error naming the first identifier
// found in two splits. Splits are compared in the order of names.
func CheckDisjoint(names []string, splits map[string][]patch.Identifier) error {
	owner := make(map[patch.Identifier]string)
	for _, name := range names {
		for _, id := range splits[name] {
			if prev, ok := owner[id]; ok && prev != name {
				return fmt.Errorf("%w: %s is in both %s and %s", ErrSplitOverlap, id, prev, name)
			}
			owner[id] = name
		}
	}
	return nil
}
