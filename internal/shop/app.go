// Package shop implements purchasing and activating catalog items against a
// user's spendable balance. Every quantity and balance mutation runs inside
// the store's transactional primitive; balance and ownership checks happen
// inside the transaction, not before it, so concurrent purchases or
// activations cannot both pass a stale check.
package shop

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/catalog"
	"github.com/studycircle/studycircle/internal/models"
)

// ShopStore defines what the app needs from the storage layer.
type ShopStore interface {
	UpdateUser(ctx context.Context, uid string, fn func(*models.User) error) error
	GetInventory(ctx context.Context, uid string) (*models.Inventory, error)
	UpdateInventory(ctx context.Context, uid string, fn func(*models.Inventory) error) error
	GetActiveEffects(ctx context.Context, uid string) (*models.ActiveEffects, error)
	UpdateActiveEffects(ctx context.Context, uid string, fn func(*models.ActiveEffects) error) error
}

// Notifier pushes inventory and effect changes onto the change feed.
// May be nil.
type Notifier interface {
	UserChanged(ctx context.Context, uid, change string)
}

// App handles shop business logic.
type App struct {
	store    ShopStore
	notifier Notifier
	clock    clockwork.Clock
}

// NewApp creates a shop App. notifier may be nil.
func NewApp(store ShopStore, notifier Notifier, clock clockwork.Clock) *App {
	return &App{store: store, notifier: notifier, clock: clock}
}

// Purchase debits the item's price from the user's balance and adds one
// unit to their inventory. Fails with ErrInsufficientFunds when the balance
// is short at transaction time.
func (a *App) Purchase(ctx context.Context, uid, itemID string) error {
	item, ok := catalog.ItemByID(itemID)
	if !ok {
		return ErrUnknownItem
	}

	err := a.store.UpdateUser(ctx, uid, func(u *models.User) error {
		if u.Points < item.Price {
			return ErrInsufficientFunds
		}
		u.Points -= item.Price
		return nil
	})
	if err != nil {
		return err
	}

	err = a.store.UpdateInventory(ctx, uid, func(inv *models.Inventory) error {
		for i := range inv.Items {
			if inv.Items[i].ItemID == itemID {
				inv.Items[i].Quantity++
				return nil
			}
		}
		inv.Items = append(inv.Items, models.InventoryItem{
			ItemID:      itemID,
			Quantity:    1,
			PurchasedAt: a.clock.Now(),
		})
		return nil
	})
	if err != nil {
		// The debit landed but the item did not. Hand the points back so the
		// user is not charged for nothing.
		if refundErr := a.store.UpdateUser(ctx, uid, func(u *models.User) error {
			u.Points += item.Price
			return nil
		}); refundErr != nil {
			log.Error().
				Err(refundErr).
				Str("uid", uid).
				Str("item_id", itemID).
				Int("price", item.Price).
				Msg("refund after failed inventory write also failed")
		}
		return err
	}

	log.Info().Str("uid", uid).Str("item_id", itemID).Int("price", item.Price).Msg("item purchased")
	a.notify(ctx, uid, "inventory")
	return nil
}

// Activate consumes one unit of an owned item and registers the resulting
// effect with an absolute expiry of now plus the catalog duration. Fails
// with ErrItemNotOwned when quantity is zero at transaction time. An
// existing effect of the same kind is replaced, not stacked.
func (a *App) Activate(ctx context.Context, uid, itemID string) (models.ActiveEffect, error) {
	item, ok := catalog.ItemByID(itemID)
	if !ok {
		return models.ActiveEffect{}, ErrUnknownItem
	}

	err := a.store.UpdateInventory(ctx, uid, func(inv *models.Inventory) error {
		for i := range inv.Items {
			if inv.Items[i].ItemID != itemID {
				continue
			}
			if inv.Items[i].Quantity <= 0 {
				return ErrItemNotOwned
			}
			inv.Items[i].Quantity--
			if inv.Items[i].Quantity == 0 {
				inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
			}
			return nil
		}
		return ErrItemNotOwned
	})
	if err != nil {
		return models.ActiveEffect{}, err
	}

	eff := models.ActiveEffect{
		ItemID:    itemID,
		Kind:      item.Kind,
		ExpiresAt: a.clock.Now().Add(time.Duration(item.DurationMinutes) * time.Minute),
	}
	err = a.store.UpdateActiveEffects(ctx, uid, func(ae *models.ActiveEffects) error {
		kept := ae.Items[:0]
		for _, existing := range ae.Items {
			if existing.Kind != eff.Kind {
				kept = append(kept, existing)
			}
		}
		ae.Items = append(kept, eff)
		return nil
	})
	if err != nil {
		// The unit was consumed but the effect never registered. Put the
		// unit back so the item is not lost.
		if restoreErr := a.store.UpdateInventory(ctx, uid, func(inv *models.Inventory) error {
			for i := range inv.Items {
				if inv.Items[i].ItemID == itemID {
					inv.Items[i].Quantity++
					return nil
				}
			}
			inv.Items = append(inv.Items, models.InventoryItem{
				ItemID:      itemID,
				Quantity:    1,
				PurchasedAt: a.clock.Now(),
			})
			return nil
		}); restoreErr != nil {
			log.Error().
				Err(restoreErr).
				Str("uid", uid).
				Str("item_id", itemID).
				Msg("inventory restore after failed effects write also failed")
		}
		return models.ActiveEffect{}, err
	}

	log.Info().
		Str("uid", uid).
		Str("item_id", itemID).
		Time("expires_at", eff.ExpiresAt).
		Msg("effect activated")
	a.notify(ctx, uid, "effects")
	return eff, nil
}

// Deactivate removes the effect backed by itemID from the user's active
// set. Deactivating an inactive item is a no-op, not an error.
func (a *App) Deactivate(ctx context.Context, uid, itemID string) error {
	err := a.store.UpdateActiveEffects(ctx, uid, func(ae *models.ActiveEffects) error {
		kept := ae.Items[:0]
		for _, eff := range ae.Items {
			if eff.ItemID != itemID {
				kept = append(kept, eff)
			}
		}
		ae.Items = kept
		return nil
	})
	if err != nil {
		return err
	}

	a.notify(ctx, uid, "effects")
	return nil
}

// Inventory returns the user's owned items.
func (a *App) Inventory(ctx context.Context, uid string) (*models.Inventory, error) {
	return a.store.GetInventory(ctx, uid)
}

// ActiveEffects returns the user's persisted active effects.
func (a *App) ActiveEffects(ctx context.Context, uid string) (*models.ActiveEffects, error) {
	return a.store.GetActiveEffects(ctx, uid)
}

func (a *App) notify(ctx context.Context, uid, change string) {
	if a.notifier != nil {
		a.notifier.UserChanged(ctx, uid, change)
	}
}
