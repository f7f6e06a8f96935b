package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrCorrupt is returned when neither the catalog nor its backup parse.
var ErrCorrupt = errors.New("catalog and backup are unreadable")

// Parse decodes a catalog document.
func Parse(data []byte) ([]Product, error) {
	if len(data) == 0 {
		return []Product{}, nil
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parsing catalog JSON: %w", err)
	}
	if products == nil {
		return []Product{}, nil
	}
	return products, nil
}

// readFile loads and parses path. A missing file is reported with
// os.ErrNotExist so callers can tell it apart from corruption.
func readFile(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
