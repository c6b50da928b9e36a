package main

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/effects"
	"github.com/studycircle/studycircle/internal/feed"
	"github.com/studycircle/studycircle/internal/gateway"
	"github.com/studycircle/studycircle/internal/group"
	"github.com/studycircle/studycircle/internal/leaderboard"
	"github.com/studycircle/studycircle/internal/session"
	"github.com/studycircle/studycircle/internal/shop"
	"github.com/studycircle/studycircle/internal/storage"
)

// Services holds the wired application services.
type Services struct {
	Store       storage.Store
	Groups      *group.App
	Shop        *shop.App
	Sessions    *session.Manager
	Effects     *effectsRegistry
	Leaderboard *leaderboard.Service
	Gateway     *gateway.Service
	Feed        *feed.Feed
}

func setupServices(ctx context.Context, cfg *Config, store storage.Store) (*Services, error) {
	clock := clockwork.NewRealClock()

	// The feed is optional; without a broker the services run standalone
	// and clients fall back to polling.
	var changeFeed *feed.Feed
	if cfg.NATS.URL != "" {
		feedCfg := feed.DefaultConfig()
		feedCfg.URL = cfg.NATS.URL
		f, err := feed.Connect(feedCfg)
		if err != nil {
			return nil, err
		}
		changeFeed = f
	}

	var groupNotifier group.Notifier
	var shopNotifier shop.Notifier
	if changeFeed != nil {
		groupNotifier = changeFeed
		shopNotifier = changeFeed
	}

	groups := group.NewApp(store, groupNotifier, clock)
	shopApp := shop.NewApp(store, shopNotifier, clock)

	registry := &effectsRegistry{
		ctx:      ctx,
		clock:    clock,
		store:    store,
		shop:     shopApp,
		managers: make(map[string]*effects.Manager),
	}

	syncer := session.NewSyncer(store, store, groups)
	sessions := session.NewManager(syncer, registry, clock)

	var standings *leaderboard.Service
	if cfg.Redis.URL != "" {
		client, err := leaderboard.NewClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		standings = leaderboard.NewService(groups, client, leaderboard.DefaultTTL)
	} else {
		standings = leaderboard.NewService(groups, nil, leaderboard.DefaultTTL)
	}

	var gw *gateway.Service
	if changeFeed != nil {
		gw = gateway.NewService(gateway.DefaultConnectionConfig(), changeFeed.Conn())

		// Group ledger changes invalidate the cached standings.
		invalidator := feed.NewSubscriber(changeFeed.Conn(), func(ev feed.Event) {
			if ev.GroupID != "" {
				standings.Invalidate(ctx, ev.GroupID)
			}
		})
		if err := invalidator.Start(); err != nil {
			return nil, err
		}
	} else {
		gw = gateway.NewService(gateway.DefaultConnectionConfig(), nil)
	}

	return &Services{
		Store:       store,
		Groups:      groups,
		Shop:        shopApp,
		Sessions:    sessions,
		Effects:     registry,
		Leaderboard: standings,
		Gateway:     gw,
		Feed:        changeFeed,
	}, nil
}

// effectsRegistry hands out one effects manager per user, hydrated from
// the store on first use, with an expiry sweeper running per manager.
type effectsRegistry struct {
	ctx   context.Context
	clock clockwork.Clock
	store storage.Store
	shop  *shop.App

	mu       sync.Mutex
	managers map[string]*effects.Manager
}

// ForUser returns the user's effects manager, creating and hydrating it on
// first use.
func (r *effectsRegistry) ForUser(uid string) *effects.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[uid]; ok {
		return m
	}

	m := effects.NewManager(uid, r.clock, r.shop)
	if persisted, err := r.store.GetActiveEffects(r.ctx, uid); err == nil {
		m.Load(persisted.Items)
	} else {
		log.Warn().Err(err).Str("uid", uid).Msg("failed to hydrate active effects")
	}
	go m.RunSweeper(r.ctx)

	r.managers[uid] = m
	return m
}
