package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/cache"
	"github.com/skygenesisenterprise/aether-broker/internal/cleanup"
	"github.com/skygenesisenterprise/aether-broker/internal/config"
	"github.com/skygenesisenterprise/aether-broker/internal/http/handlers"
	"github.com/skygenesisenterprise/aether-broker/internal/http/router"
	"github.com/skygenesisenterprise/aether-broker/internal/http/server"
	"github.com/skygenesisenterprise/aether-broker/internal/identity"
	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
	"github.com/skygenesisenterprise/aether-broker/internal/mfa"
	"github.com/skygenesisenterprise/aether-broker/internal/notify"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/rate"
	"github.com/skygenesisenterprise/aether-broker/internal/rbac"
	"github.com/skygenesisenterprise/aether-broker/internal/sso"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
	"github.com/skygenesisenterprise/aether-broker/internal/store/pg"
	"github.com/skygenesisenterprise/aether-broker/internal/webhook"
)

func main() {
	cfgPath := os.Getenv("AETHER_CONFIG")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init(logger.Config{Env: "dev"})
		logger.L().Fatal("config load failed", logger.Err(err))
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       os.Getenv("AETHER_LOG_LEVEL"),
		ServiceName: "aether-broker",
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L().Fatal("broker exited with error", logger.Err(err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ks, err := jwt.LoadOrCreate(cfg.Keys.Dir)
	if err != nil {
		return err
	}

	issuer := jwt.NewIssuer(cfg.Identity.IssuerURL, cfg.Identity.Audience, ks)
	issuer.AccessTTL = cfg.Tokens.AccessTTL.Std()
	issuer.RefreshTTL = cfg.Tokens.RefreshTTL.Std()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cacheClient, err := cache.New(cache.Config{
		Kind:     cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return err
	}
	defer func() { _ = cacheClient.Close() }()

	mfaLimiter := rate.New(cacheClient, cfg.Rate.MFA.Limit, cfg.Rate.MFA.Window.Std(), cfg.Rate.Enabled)
	tokenLimiter := rate.New(cacheClient, 60, time.Minute, cfg.Rate.Enabled)

	dispatcher := buildNotifier(cfg)

	rbacEngine := rbac.NewEngine(st)
	if err := rbacEngine.Bootstrap(ctx); err != nil {
		logger.L().Warn("rbac bootstrap failed", logger.Err(err))
	}

	sessions := identity.NewBroker(st, issuer, cfg.Session.CookieName, cfg.Identity.CookieDomain, cfg.Session.TTL.Std())
	ssoBroker := sso.NewBroker(st, issuer, rbacEngine, sessions,
		cfg.Identity.LoginURL, cfg.Identity.APIBaseURL, cfg.Identity.IssuerURL)
	ssoBroker.CodeTTL = cfg.Tokens.AuthCodeTTL.Std()

	mfaEngine := mfa.NewEngine(st, dispatcher, cfg.MFA.CodeTTL.Std(), cfg.MFA.MaxAttempts, cfg.MFA.TOTPIssuer)
	whEngine := webhook.NewEngine(st)

	sweepHooks := whEngine
	if !cfg.Webhooks.SweepEnabled {
		sweepHooks = nil
	}
	sweeper := cleanup.NewSweeper(st, sweepHooks, cfg.Cleanup.Interval.Std())
	if cfg.Cleanup.Retention > 0 {
		sweeper.DeliveryRetention = cfg.Cleanup.Retention.Std()
	}
	go sweeper.Start(ctx)

	handler := router.New(handlers.Deps{
		Store:        st,
		Issuer:       issuer,
		SSO:          ssoBroker,
		Sessions:     sessions,
		MFA:          mfaEngine,
		RBAC:         rbacEngine,
		Webhooks:     whEngine,
		MFALimiter:   mfaLimiter,
		TokenLimiter: tokenLimiter,
	})

	return server.Run(ctx, cfg.Server.Addr, handler)
}

func openStore(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch cfg.Storage.Driver {
	case "pg":
		return pg.New(ctx, cfg.Storage.DSN)
	default:
		logger.L().Warn("using in-memory store; data is not persisted")
		return memory.New(), nil
	}
}

func buildNotifier(cfg *config.Config) *notify.Dispatcher {
	var email notify.EmailSender
	if cfg.SMTP.Host != "" {
		s := notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		if cfg.SMTP.TLS != "" {
			s.TLSMode = cfg.SMTP.TLS
		}
		s.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		email = s
	}

	var sms notify.SMSSender
	if cfg.SMS.GatewayURL != "" {
		sms = notify.NewGatewaySMSSender(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.From)
	}

	return notify.NewDispatcher(email, sms)
}
