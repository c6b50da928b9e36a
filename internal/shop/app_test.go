package shop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studycircle/studycircle/internal/models"
	"github.com/studycircle/studycircle/internal/storage/memory"
)

func newTestApp(t *testing.T, balance int) (*App, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClock()
	app := NewApp(store, nil, clock)

	if _, err := store.EnsureUser(context.Background(), "alice"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if balance > 0 {
		if err := store.AddUserPoints(context.Background(), "alice", balance); err != nil {
			t.Fatalf("AddUserPoints: %v", err)
		}
	}
	return app, store, clock
}

func TestPurchaseDebitsAndAppends(t *testing.T) {
	ctx := context.Background()
	app, store, _ := newTestApp(t, 100)

	if err := app.Purchase(ctx, "alice", "double_points"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	u, _ := store.GetUser(ctx, "alice")
	if u.Points != 50 {
		t.Errorf("balance = %d, want 50", u.Points)
	}

	inv, _ := app.Inventory(ctx, "alice")
	if len(inv.Items) != 1 || inv.Items[0].Quantity != 1 {
		t.Fatalf("inventory = %+v, want one item qty 1", inv.Items)
	}

	// Second purchase increments quantity instead of appending.
	if err := app.Purchase(ctx, "alice", "double_points"); err != nil {
		t.Fatalf("second Purchase: %v", err)
	}
	inv, _ = app.Inventory(ctx, "alice")
	if len(inv.Items) != 1 || inv.Items[0].Quantity != 2 {
		t.Errorf("inventory = %+v, want one item qty 2", inv.Items)
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	app, store, _ := newTestApp(t, 20)

	err := app.Purchase(ctx, "alice", "double_points") // price 50
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	u, _ := store.GetUser(ctx, "alice")
	if u.Points != 20 {
		t.Errorf("failed purchase touched balance: %d, want 20", u.Points)
	}
	inv, _ := app.Inventory(ctx, "alice")
	if len(inv.Items) != 0 {
		t.Errorf("failed purchase added inventory: %+v", inv.Items)
	}
}

func TestPurchaseUnknownItem(t *testing.T) {
	app, _, _ := newTestApp(t, 100)
	if err := app.Purchase(context.Background(), "alice", "mystery_box"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("err = %v, want ErrUnknownItem", err)
	}
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	// Balance covers exactly one speed_boost (price 30): of two concurrent
	// purchases one must fail, and the balance must never go negative.
	ctx := context.Background()
	app, store, _ := newTestApp(t, 40)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = app.Purchase(ctx, "alice", "speed_boost")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d purchases succeeded, want exactly 1", succeeded)
	}

	u, _ := store.GetUser(ctx, "alice")
	if u.Points != 10 {
		t.Errorf("balance = %d, want 10", u.Points)
	}
}

func TestActivateConsumesAndRegisters(t *testing.T) {
	ctx := context.Background()
	app, _, clock := newTestApp(t, 100)

	if err := app.Purchase(ctx, "alice", "speed_boost"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	eff, err := app.Activate(ctx, "alice", "speed_boost")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if eff.Kind != models.EffectSpeedBoost {
		t.Errorf("kind = %q", eff.Kind)
	}
	if want := clock.Now().Add(15 * time.Minute); !eff.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", eff.ExpiresAt, want)
	}

	// Quantity hit zero, so the item is gone from the inventory.
	inv, _ := app.Inventory(ctx, "alice")
	if len(inv.Items) != 0 {
		t.Errorf("inventory after activation = %+v, want empty", inv.Items)
	}

	ae, _ := app.ActiveEffects(ctx, "alice")
	if len(ae.Items) != 1 || ae.Items[0].ItemID != "speed_boost" {
		t.Errorf("active effects = %+v", ae.Items)
	}
}

func TestActivateNotOwned(t *testing.T) {
	app, _, _ := newTestApp(t, 100)
	if _, err := app.Activate(context.Background(), "alice", "speed_boost"); !errors.Is(err, ErrItemNotOwned) {
		t.Errorf("err = %v, want ErrItemNotOwned", err)
	}
}

func TestConcurrentActivateSingleQuantity(t *testing.T) {
	// Two concurrent activations of a quantity-1 item: exactly one wins.
	ctx := context.Background()
	app, _, _ := newTestApp(t, 100)
	if err := app.Purchase(ctx, "alice", "speed_boost"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = app.Activate(ctx, "alice", "speed_boost")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrItemNotOwned) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d activations succeeded, want exactly 1", succeeded)
	}
}

func TestActivateSameKindReplaces(t *testing.T) {
	ctx := context.Background()
	app, _, clock := newTestApp(t, 200)

	_ = app.Purchase(ctx, "alice", "double_points")
	_ = app.Purchase(ctx, "alice", "double_points")

	if _, err := app.Activate(ctx, "alice", "double_points"); err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	clock.Advance(10 * time.Minute)
	second, err := app.Activate(ctx, "alice", "double_points")
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}

	ae, _ := app.ActiveEffects(ctx, "alice")
	if len(ae.Items) != 1 {
		t.Fatalf("active effects = %+v, want exactly one", ae.Items)
	}
	if !ae.Items[0].ExpiresAt.Equal(second.ExpiresAt) {
		t.Errorf("expiry = %v, want replacement %v", ae.Items[0].ExpiresAt, second.ExpiresAt)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t, 100)

	_ = app.Purchase(ctx, "alice", "speed_boost")
	if _, err := app.Activate(ctx, "alice", "speed_boost"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := app.Deactivate(ctx, "alice", "speed_boost"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	// Deactivating again is a no-op, not an error.
	if err := app.Deactivate(ctx, "alice", "speed_boost"); err != nil {
		t.Fatalf("second Deactivate: %v", err)
	}

	ae, _ := app.ActiveEffects(ctx, "alice")
	if len(ae.Items) != 0 {
		t.Errorf("active effects = %+v, want empty", ae.Items)
	}
}

// brokenEffectsStore fails every effects write, simulating a store outage
// between the inventory and effects transactions.
type brokenEffectsStore struct {
	*memory.Store
}

func (s brokenEffectsStore) UpdateActiveEffects(ctx context.Context, uid string, fn func(*models.ActiveEffects) error) error {
	return errors.New("effects write failed")
}

func TestActivateRestoresUnitWhenEffectsWriteFails(t *testing.T) {
	ctx := context.Background()
	_, store, clock := newTestApp(t, 100)
	app := NewApp(brokenEffectsStore{Store: store}, nil, clock)

	if err := app.Purchase(ctx, "alice", "double_points"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if _, err := app.Activate(ctx, "alice", "double_points"); err == nil {
		t.Fatal("Activate succeeded despite failing effects write")
	}

	// The consumed unit is handed back, same as the purchase refund path.
	inv, err := app.Inventory(ctx, "alice")
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inv.Items) != 1 || inv.Items[0].Quantity != 1 {
		t.Errorf("inventory = %+v, want one item qty 1", inv.Items)
	}

	effs, err := store.GetActiveEffects(ctx, "alice")
	if err != nil {
		t.Fatalf("GetActiveEffects: %v", err)
	}
	if len(effs.Items) != 0 {
		t.Errorf("active effects = %+v, want none", effs.Items)
	}
}
