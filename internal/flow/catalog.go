package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// MatchItem resolves a catalog entry by id, then by exact name, then by a
// unique partial name match. It never guesses between several candidates.
func MatchItem(items []models.CatalogItem, id, name string) (models.CatalogItem, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		for _, it := range items {
			if strings.EqualFold(it.ID, id) {
				return it, nil
			}
		}
		// Drivers sometimes pass a name in the id field.
		if name == "" {
			name = id
		}
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return models.CatalogItem{}, models.ErrItemNotFound
	}
	for _, it := range items {
		if strings.ToLower(it.Name) == name {
			return it, nil
		}
	}

	var partial []models.CatalogItem
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), name) {
			partial = append(partial, it)
		}
	}
	switch len(partial) {
	case 1:
		return partial[0], nil
	case 0:
		return models.CatalogItem{}, models.ErrItemNotFound
	default:
		return models.CatalogItem{}, fmt.Errorf("%q matches %s: %w", name, itemNames(partial), models.ErrAmbiguousItem)
	}
}

// FindByID returns the item with the given id.
func FindByID(items []models.CatalogItem, id string) (models.CatalogItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return models.CatalogItem{}, false
}

func itemNames(items []models.CatalogItem) string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return strings.Join(names, ", ")
}
