package app

import (
	"fmt"
	"log/slog"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/internal/infra"
	"limit_go/internal/infra/custody"
	"limit_go/internal/infra/feed"
	"limit_go/internal/infra/jupiter"
	"limit_go/internal/infra/solana"
	"limit_go/internal/infra/storage"
	"limit_go/internal/infra/telegram"
	"limit_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config *infra.Config

	Store    domain.OrderStore
	Oracle   domain.PriceOracle
	Executor domain.TradeExecutor
	Notifier domain.Notifier
	Balances domain.BalanceProvider
	Tokens   domain.TokenRegistry

	Orders    *service.OrderService
	Scheduler *engine.Scheduler

	FeedWorker *feed.Worker
	Icons      *infra.IconCache
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization and wires every
// component behind the domain interfaces.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Limit Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage
	switch cfg.Database.Driver {
	case "postgres":
		store, err := storage.NewPostgresStorage(cfg.Database.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		b.Store = store
	default:
		store, err := storage.NewStorage(cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		b.Store = store
	}
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Database.Driver))

	// 4. External providers
	jupiterClient := jupiter.NewClient(cfg.Jupiter.PriceAPIURL, cfg.Jupiter.TokenAPIURL)
	b.Tokens = jupiterClient

	custodyClient := custody.NewClient(cfg.Custody.BaseURL, cfg.Custody.APIKey)
	b.Executor = custodyClient
	b.Balances = solana.NewBalanceProvider(cfg.Solana.RPCURL, custodyClient)
	b.Notifier = telegram.NewNotifier(cfg.Telegram.APIURL, cfg.Telegram.BotToken)

	// 5. Price oracle, optionally fronted by the streaming feed cache
	b.Oracle = jupiterClient
	if cfg.Feed.Enabled && cfg.Feed.WSURL != "" {
		cache := feed.NewPriceCache()
		b.FeedWorker = feed.NewWorker(cfg.Feed.WSURL, cfg.Feed.Tokens, cache)
		b.Oracle = feed.NewCachedOracle(cache, jupiterClient,
			time.Duration(cfg.Feed.MaxAgeSec)*time.Second)
		slog.Info("✅ Streaming price feed enabled", slog.Int("tokens", len(cfg.Feed.Tokens)))
	}

	// 6. Icon cache for the chat UI layer
	icons, err := infra.NewIconCache(cfg.Assets.IconDir)
	if err != nil {
		return fmt.Errorf("icon cache init failed: %w", err)
	}
	b.Icons = icons

	// 7. Services and engine
	intake := service.NewIntakeValidator(b.Balances)
	b.Orders = service.NewOrderService(b.Store, intake, b.Tokens, b.Oracle, b.Icons)
	b.Scheduler = engine.NewScheduler(b.Store, b.Oracle, b.Executor, b.Notifier,
		engine.WithTickInterval(cfg.TickInterval()),
		engine.WithInstrumentDelay(cfg.InstrumentDelay()))

	slog.Info("✅ Components wired")
	return nil
}
