// Package app assembles the engines from configuration. The server and the
// operator CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/account"
	"pixelmint-ledger/internal/admission"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/config"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/notify"
	"pixelmint-ledger/internal/payment"
	"pixelmint-ledger/internal/ratelimit"
	"pixelmint-ledger/internal/redemption"
	"pixelmint-ledger/internal/settlement"
	"pixelmint-ledger/internal/subscription"
	"pixelmint-ledger/internal/worker"
	"pixelmint-ledger/lib/sl"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Data       *database.Data
	Catalog    *catalog.Lookup
	Accounts   *account.Service
	Ledger     *ledger.Store
	Subs       *subscription.Service
	Granter    *entitlement.Granter
	Redemption *redemption.Manager
	Settlement *settlement.Engine
	Admission  *admission.Controller
	Limiter    *ratelimit.Limiter
	Notifier   notify.Notifier
	Worker     *worker.Checker
}

// Build connects to postgres and, when reachable, redis, then wires every
// component. Redis is required only for the redis registration store.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisHost != "" {
		rdb, err = database.ConnectRedis(cfg, log)
		if err != nil {
			if cfg.RegisterStore == "redis" {
				return nil, err
			}
			log.Warn("redis unavailable, continuing without it", sl.Err(err))
			rdb = nil
		}
	}

	return Wire(ctx, cfg, db, rdb, log)
}

// Wire builds the components on already opened connections. rdb may be nil.
func Wire(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, DB: db, Redis: rdb}
	a.Data = database.NewData(db)

	a.Catalog = catalog.New(a.Data, cfg.IsProduction())
	if cfg.Env == config.EnvLocal {
		if err := a.Catalog.Seed(ctx); err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	a.Accounts = account.New(a.Data, log)
	a.Ledger = ledger.New(a.Data, rdb, ledger.Config{
		TTLDays:     cfg.PointsTTLDays,
		AwardPoints: cfg.DailyAwardPoints,
		AwardTag:    cfg.DailyAwardTag,
	}, log)
	a.Subs = subscription.New(a.Data, log)
	a.Granter = entitlement.New(a.Data, a.Ledger, a.Subs, a.Catalog, log)
	a.Redemption = redemption.New(a.Data, a.Catalog, a.Granter, cfg.RedeemDailyLimit, log)

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	gateway := payment.NewClient(cfg.GatewayURL, cfg.GatewayMerchantID, cfg.GatewayKey, cfg.GatewayNotifyURL, cfg.GatewayReturnURL)
	a.Notifier = newNotifier(cfg, log)
	a.Settlement = settlement.New(a.Data, a.Catalog, a.Granter, gateway, a.Notifier, node, cfg.ReconcileGrace, log)

	a.Admission = admission.NewController(cfg.AdmissionTimeout, log)

	var store ratelimit.Store = ratelimit.NewGormStore(a.Data)
	if cfg.RegisterStore == "redis" {
		if rdb == nil {
			return nil, fmt.Errorf("REGISTER_STORE=redis requires redis")
		}
		store = ratelimit.NewRedisStore(rdb)
	}
	a.Limiter = ratelimit.New(store, cfg.RegisterMaxPerIP, cfg.RegisterWindow)

	var rs *redsync.Redsync
	if rdb != nil {
		rs = redsync.New(goredis.NewPool(rdb))
	}
	a.Worker = worker.NewChecker(a.Subs, a.Settlement, a.Ledger, rs, log)

	return a, nil
}

func newNotifier(cfg *config.Config, log *slog.Logger) notify.Notifier {
	if cfg.BotToken == "" || cfg.AlertChatID == 0 {
		return notify.NewLog(log)
	}
	tg, err := notify.NewTelegram(cfg.BotToken, cfg.AlertChatID, log)
	if err != nil {
		log.Warn("telegram alerts disabled", sl.Err(err))
		return notify.NewLog(log)
	}
	return tg
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
