package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/4kxz/godot-asset-list/models"
)

// ValidateAsset ensures a record carries the identity key used for
// deduplication.
func ValidateAsset(a *models.Asset) error {
	if a == nil {
		return fmt.Errorf("asset is nil")
	}
	if strings.TrimSpace(a.AssetURL) == "" {
		return fmt.Errorf("asset missing url")
	}
	return nil
}

// NormalizeStars converts a scraped star count into a sortable number.
// The transform is textual: periods are removed and every "k" becomes
// two zeros, so "1.2k" -> "12k" -> 1200. Values that still fail to
// parse score zero.
func NormalizeStars(stars string) int {
	cleaned := strings.ReplaceAll(stars, ".", "")
	cleaned = strings.ReplaceAll(cleaned, "k", "00")
	value, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return value
}
