// Package uuid issues time-ordered identifiers for crawl runs and unkeyed rows.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// GeneratedKeyPrefix marks row keys minted for listings that carried no house code.
const GeneratedKeyPrefix = "gen-"

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RowKey returns listingID unchanged, or a generated key when it is empty.
func (g Generator) RowKey(listingID string) (string, error) {
	if listingID != "" {
		return listingID, nil
	}
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return GeneratedKeyPrefix + id, nil
}
