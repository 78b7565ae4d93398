package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

var errEmptyEmbedding = errors.New("embedding is empty")

// embeddingFile is the on-disk form of a face encoding. Either the full
// object or a bare JSON array of floats is accepted.
type embeddingFile struct {
	Name      string    `json:"name"`
	ImagePath string    `json:"image_path"`
	Embedding []float32 `json:"embedding"`
}

// parseEmbedding decodes an embedding file and checks its dimension when dim > 0.
func parseEmbedding(data []byte, dim int) (*embeddingFile, error) {
	data = bytes.TrimSpace(data)
	var ef embeddingFile
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &ef.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
	} else if err := json.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}

	if len(ef.Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	if dim > 0 && len(ef.Embedding) != dim {
		return nil, fmt.Errorf("%w: got %d values, expected %d", facematch.ErrDimensionMismatch, len(ef.Embedding), dim)
	}
	return &ef, nil
}

// readEmbedding reads an embedding file. A missing name falls back to the file name.
func readEmbedding(path string, dim int) (*embeddingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	ef, err := parseEmbedding(data, dim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(ef.Name) == "" {
		ef.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ef, nil
}
