package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ent0n29/xiaobei/internal/capabilities"
	"github.com/ent0n29/xiaobei/internal/catalog"
	"github.com/ent0n29/xiaobei/internal/config"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/httpapi"
	"github.com/ent0n29/xiaobei/internal/ledger"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/payment"
	"github.com/ent0n29/xiaobei/internal/session"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Catalog    *catalog.Catalog
	Ledger     ledger.Store
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release the ledger backend.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cat, err := catalog.Default(catalog.Defaults{
		Version:         cfg.AgentVersion,
		PaymentProtocol: cfg.PaymentProtocol,
		PayTo:           cfg.PaymentPayTo,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}

	store, err := ledger.NewStore(ctx, cfg.LedgerBackend, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger store init failed: %w", err)
	}
	logger.Info("ledger ready", "mode", store.Mode())

	sessions := session.NewManager(cat.AdvertisedNames())
	d, err := dispatch.New(dispatch.Deps{
		Sessions: sessions,
		Catalog:  cat,
		Payments: payment.NewGate(payment.NewHeuristicVerifier()),
		Handlers: capabilities.Builtin(chatRand(cfg.ChatSeed)),
		Ledger:   store,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	api := httpapi.New(cfg, d, metrics, logger)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Dispatcher: d,
		Sessions:   sessions,
		Catalog:    cat,
		Ledger:     store,
		Metrics:    metrics,
		Cleanup:    store.Close,
	}, nil
}

// chatRand seeds the chat reply picker. A zero seed means the clock.
func chatRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
