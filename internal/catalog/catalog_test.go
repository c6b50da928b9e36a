package catalog

import (
	"testing"

	"github.com/studycircle/studycircle/internal/models"
)

func TestItemByID(t *testing.T) {
	item, ok := ItemByID("double_points")
	if !ok {
		t.Fatal("expected double_points in catalog")
	}
	if item.Kind != models.EffectDoublePoints {
		t.Errorf("Kind = %q, want %q", item.Kind, models.EffectDoublePoints)
	}
	if item.Price <= 0 || item.DurationMinutes <= 0 {
		t.Errorf("item has non-positive price or duration: %+v", item)
	}

	if _, ok := ItemByID("no_such_item"); ok {
		t.Error("unknown id must not resolve to an item")
	}
}

func TestItemsIsACopy(t *testing.T) {
	first := Items()
	first[0].Price = -1
	if again := Items(); again[0].Price == -1 {
		t.Error("Items must return a copy, not the backing table")
	}
}
