package models

import (
	"slices"
	"time"
)

// EffectKind is the closed set of purchasable modifier kinds. Unknown ids
// never enter the system: every persisted item carries one of these values.
type EffectKind string

const (
	EffectDoublePoints EffectKind = "double_points"
	EffectSpeedBoost   EffectKind = "speed_boost"
)

// InventoryItem is one owned shop item with its remaining quantity.
// Quantity never drops below zero; an item decremented to zero is removed
// from the inventory entirely.
type InventoryItem struct {
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Inventory is the per-user owned-items document.
type Inventory struct {
	UserID string          `json:"user_id"`
	Items  []InventoryItem `json:"items"`
}

// Clone returns a deep copy of the inventory document.
func (inv *Inventory) Clone() *Inventory {
	cp := *inv
	cp.Items = slices.Clone(inv.Items)
	return &cp
}

// ActiveEffect is a currently running modifier. Its lifetime is bounded by
// ExpiresAt; consumers never observe an effect past its expiry.
type ActiveEffect struct {
	ItemID    string     `json:"item_id"`
	Kind      EffectKind `json:"effect_type"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// ActiveEffects is the per-user active-modifiers document.
type ActiveEffects struct {
	UserID string         `json:"user_id"`
	Items  []ActiveEffect `json:"items"`
}

// Clone returns a deep copy of the active-effects document.
func (a *ActiveEffects) Clone() *ActiveEffects {
	cp := *a
	cp.Items = slices.Clone(a.Items)
	return &cp
}
