package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/galleria-labs/galleria/internal/crypto"
	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/factory"
	"github.com/galleria-labs/galleria/internal/ledger"
	"github.com/galleria-labs/galleria/internal/market"
	"github.com/galleria-labs/galleria/internal/server"
	"github.com/galleria-labs/galleria/internal/server/handler"
	"github.com/galleria-labs/galleria/internal/server/ws"
	"github.com/galleria-labs/galleria/internal/service"
)

// archiverLockTTL bounds how long one process may hold the archive lock, so a
// crashed run cannot block other instances forever.
const archiverLockTTL = 10 * time.Minute

// core bundles the in-process marketplace engines and the operator identity.
type core struct {
	ledger   *ledger.Ledger
	market   *market.Marketplace
	factory  *factory.Factory
	signer   *crypto.Signer
	platform domain.Account
}

// buildCore constructs the payment ledger, marketplace, and group factory, and
// loads the operator signing key when one is configured.
func (a *App) buildCore(ctx context.Context) (*core, error) {
	var signer *crypto.Signer
	if a.cfg.Operator.PrivateKey != "" || a.cfg.Operator.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Operator.PrivateKey,
			EncryptedKeyPath: a.cfg.Operator.EncryptedKeyPath,
			KeyPassword:      a.cfg.Operator.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("build core: load operator key: %w", err)
		}
		signer, err = crypto.NewSigner(key, a.cfg.Operator.ChainID)
		if err != nil {
			return nil, fmt.Errorf("build core: create signer: %w", err)
		}
	}

	platform := domain.HexToAccount(a.cfg.Marketplace.PlatformAccount)
	if platform == domain.ZeroAccount {
		if signer != nil {
			platform = signer.Address()
		} else {
			platform = domain.NewAccount()
			a.logger.WarnContext(ctx, "no platform account configured, derived a fresh one",
				slog.String("platform", platform.Hex()),
			)
		}
	}

	led := ledger.New()
	mkt, err := market.New(led, platform, a.cfg.Marketplace.SellerPercent, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build core: marketplace: %w", err)
	}
	fac, err := factory.New(led, mkt, platform, a.cfg.Factory.MintFee, a.cfg.Factory.BurnFee, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build core: factory: %w", err)
	}

	return &core{
		ledger:   led,
		market:   mkt,
		factory:  fac,
		signer:   signer,
		platform: platform,
	}, nil
}

// buildServices creates the listing and group services on top of the engines.
func (a *App) buildServices(deps *Dependencies, c *core) (*service.ListingService, *service.GroupService) {
	listingSvc := service.NewListingService(
		c.market, deps.ListingStore, deps.ListingCache,
		deps.RateLimiter, deps.SignalBus, deps.AuditStore,
		a.logger,
	)
	if c.signer != nil {
		listingSvc.WithSigner(c.signer)
	}
	listingSvc.WithNotifier(deps.Notifier)

	groupSvc := service.NewGroupService(
		c.factory, deps.SoldRecordStore, deps.SignalBus, deps.AuditStore,
		a.logger,
	)
	if deps.Metadata != nil {
		groupSvc.WithMetadataPublisher(deps.Metadata)
	}
	groupSvc.WithListingMirror(listingSvc)
	groupSvc.WithNotifier(deps.Notifier)

	return listingSvc, groupSvc
}

// ServeMode runs the HTTP API and WebSocket feed without background archive
// workers.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	c, err := a.buildCore(ctx)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// PublishMode runs only the background publishers: the cold-storage archiver
// loop. Minted-token metadata publication happens inline in the group
// service, so this mode is for deployments that split the API from the
// archive workers.
func (a *App) PublishMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting publish mode")

	if deps.Archiver == nil {
		return fmt.Errorf("publish mode: s3 must be enabled")
	}

	c, err := a.buildCore(ctx)
	if err != nil {
		return fmt.Errorf("publish mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the HTTP API, WebSocket feed, and the archiver loop in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps, c)
	} else {
		a.logger.InfoContext(ctx, "s3 disabled, skipping archiver")
	}

	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, API will not be reachable")
		return
	}

	listingSvc, groupSvc := a.buildServices(deps, c)

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	platformHandler := handler.NewPlatformHandler(listingSvc, groupSvc, deps.AuditStore, a.logger)
	if deps.BlobReader != nil {
		platformHandler.WithArchiveIndex(deps.BlobReader)
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, startedAt),
		Listings:    handler.NewListingHandler(listingSvc, a.logger),
		Groups:      handler.NewGroupHandler(groupSvc, a.logger),
		Settlements: handler.NewSettlementHandler(deps.SignalBus, a.logger),
		Platform:    platformHandler,
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver adds the cold-storage archive loop to the given errgroup. A
// distributed lock keeps concurrent deployments from double-archiving.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	age := a.cfg.S3.ArchiveAge.Duration
	if age <= 0 {
		age = 30 * 24 * time.Hour
	}

	runOnce := func() {
		unlock, err := deps.LockManager.Acquire(ctx, "lock:archiver", archiverLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archiver lock held elsewhere, skipping run")
			} else {
				a.logger.WarnContext(ctx, "archiver lock acquire failed",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		defer unlock()

		before := time.Now().UTC().Add(-age)

		n, err := deps.Archiver.ArchiveSettledListings(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive listings failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived settled listings",
				slog.Int64("count", n),
				slog.Time("before", before),
			)
		}

		for _, grp := range c.factory.Groups() {
			addr := grp.Address()
			n, err := deps.Archiver.ArchiveGroupSales(ctx, addr, before)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive group sales failed",
					slog.String("group", addr.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived group sales",
					slog.String("group", addr.Hex()),
					slog.Int64("count", n),
				)
			}
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.Duration("age", age),
	)
}
