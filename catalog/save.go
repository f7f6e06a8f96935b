package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Marshal encodes products as an indented JSON document.
func Marshal(products []Product) ([]byte, error) {
	if products == nil {
		products = []Product{}
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	return append(data, '\n'), nil
}

// writeWithBackup snapshots the current document at path into backupPath
// (when it exists) and then replaces path via a temp file and rename.
func writeWithBackup(path, backupPath string, products []Product) error {
	data, err := Marshal(products)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}

	if current, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(backupPath, current, 0644); err != nil {
			return fmt.Errorf("writing catalog backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading catalog for backup: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".booth_assets-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
