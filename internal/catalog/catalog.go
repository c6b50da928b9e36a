// Package catalog holds the static table of purchasable modifier items.
package catalog

import "github.com/studycircle/studycircle/internal/models"

// ShopItem describes one purchasable modifier: its price in spendable
// points, the effect kind it activates, and how long the effect runs.
type ShopItem struct {
	ID              string
	Name            string
	Price           int
	Kind            models.EffectKind
	DurationMinutes int
}

var items = []ShopItem{
	{
		ID:              "double_points",
		Name:            "Double Points",
		Price:           50,
		Kind:            models.EffectDoublePoints,
		DurationMinutes: 30,
	},
	{
		ID:              "speed_boost",
		Name:            "Speed Boost",
		Price:           30,
		Kind:            models.EffectSpeedBoost,
		DurationMinutes: 15,
	},
}

// Items returns the full catalog in display order.
func Items() []ShopItem {
	out := make([]ShopItem, len(items))
	copy(out, items)
	return out
}

// ItemByID looks up a catalog item. The second return is false for ids not
// in the catalog; callers must treat that as a hard failure, never a nil
// fallthrough.
func ItemByID(id string) (ShopItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return ShopItem{}, false
}
