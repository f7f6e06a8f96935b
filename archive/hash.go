package archive

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
)

// HashFile returns the hex SHA-1 of the file at path.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
