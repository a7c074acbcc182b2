package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/algolab"
	"bistbroker/internal/cache"
	"bistbroker/internal/config"
	"bistbroker/internal/domain"
	"bistbroker/internal/events"
	"bistbroker/internal/httpapi"
	"bistbroker/internal/pipeline"
	"bistbroker/internal/session"
	"bistbroker/internal/store"
	"bistbroker/internal/stream"
	"bistbroker/internal/util"
	"bistbroker/internal/validate"
)

func main() {
	cfgPath := "config/bistbroker.yaml"
	if p := os.Getenv("BISTBROKER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Brokerage REST client.
	client, err := algolab.NewClient(cfg.Broker, cfg.Session, logger)
	if err != nil {
		logger.Error("building brokerage client", "err", err)
		os.Exit(1)
	}

	// Session audit store.
	audit, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Error("opening session store", "err", err)
		os.Exit(1)
	}
	defer audit.Close()

	// Session manager.
	sessions := session.NewManager(client, audit, session.Config{
		HeartbeatInterval:   cfg.Session.HeartbeatInterval,
		HeartbeatMaxRetries: cfg.Session.HeartbeatMaxRetries,
		RefreshBuffer:       cfg.Session.RefreshBuffer,
	}, logger)

	if err := sessions.Authenticate(ctx, cfg.Broker.Username, cfg.Broker.Password); err != nil {
		logger.Error("authentication failed", "err", err)
		os.Exit(1)
	}
	defer sessions.Logout(context.Background())

	// Event publisher and tick cache.
	publisher := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.OrderTopic, cfg.Events.PortfolioTopic, logger)
	defer publisher.Close()

	ticks := cache.NewTickCache(cfg.Cache.RedisAddr, cfg.Cache.TickTTL)
	defer ticks.Close()

	// Order pipeline with notional exposure caps ahead of the brokerage's
	// own pre-trade checks.
	tracker := pipeline.NewMemoryTracker()
	risk := pipeline.NewNotionalRisk(
		decimal.NewFromFloat(cfg.Risk.MaxOrderNotional),
		decimal.NewFromFloat(cfg.Risk.MaxUserExposure),
	)
	orders := pipeline.New(client, sessions, risk, tracker, publisher,
		validate.LimitsFromConfig(cfg.Validation), logger)

	// Streaming connection: ticks feed the cache, order updates feed the
	// tracker, portfolio deltas are republished downstream.
	streams := stream.NewClient(stream.Config{
		URL:                  cfg.Broker.StreamURL,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		PingInterval:         cfg.Stream.PingInterval,
		AuthTimeout:          cfg.Stream.AuthTimeout,
	}, logger)

	streams.OnMessage(domain.ChannelTick, func(m stream.Message) {
		tick, ok := m.(stream.Tick)
		if !ok {
			return
		}
		cctx, ccancel := context.WithTimeout(ctx, time.Second)
		defer ccancel()
		if err := ticks.SetLatest(cctx, tick); err != nil {
			logger.Warn("caching tick failed", "symbol", tick.Symbol, "err", err)
		}
	})

	streams.OnMessage(domain.ChannelOrderUpdate, func(m stream.Message) {
		upd, ok := m.(stream.OrderUpdate)
		if !ok {
			return
		}
		tracker.UpdateOrderResponse(ctx, &domain.Order{
			ClientOrderID:  upd.ClientOrderID,
			BrokerOrderID:  upd.BrokerOrderID,
			Status:         upd.Status,
			FilledQuantity: upd.FilledQuantity,
		})
		if upd.Status.IsTerminal() {
			risk.Release(upd.ClientOrderID)
		}
	})

	streams.OnMessage(domain.ChannelPortfolioUpdate, func(m stream.Message) {
		upd, ok := m.(stream.PortfolioUpdate)
		if !ok {
			return
		}
		pctx, pcancel := context.WithTimeout(ctx, time.Second)
		defer pcancel()
		evt := domain.PortfolioEvent{
			UserID:        upd.UserID,
			Symbol:        upd.Symbol,
			PositionDelta: upd.PositionDelta,
			CashDelta:     upd.CashDelta,
			At:            upd.Timestamp,
		}
		if err := publisher.PublishPortfolio(pctx, evt); err != nil {
			logger.Warn("publishing portfolio event failed", "user", upd.UserID, "err", err)
		}
	})

	// Account channels are keyed by user; market channels come and go with
	// API subscriptions.
	if err := streams.Subscribe(domain.ChannelOrderUpdate, cfg.Broker.Username); err != nil {
		logger.Error("subscribing to order updates", "err", err)
	}
	if err := streams.Subscribe(domain.ChannelPortfolioUpdate, cfg.Broker.Username); err != nil {
		logger.Error("subscribing to portfolio updates", "err", err)
	}

	creds, err := sessions.Credentials()
	if err != nil {
		logger.Error("no credentials for stream", "err", err)
		os.Exit(1)
	}
	if err := streams.Connect(ctx, creds); err != nil {
		logger.Error("stream connect failed", "err", err)
		os.Exit(1)
	}
	defer streams.Disconnect()

	// REST API.
	api := httpapi.NewServer(orders, audit, ticks, logger)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Handler()}
	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "err", err)
			cancel()
		}
	}()

	logger.Info("bistbroker running", "api", cfg.Broker.APIURL, "stream", cfg.Broker.StreamURL)

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-streams.Errs():
		logger.Error("stream terminated", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "err", err)
	}
}
