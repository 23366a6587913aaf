package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"controld_bridge/core-go/internal/config"
	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/db"
	"controld_bridge/core-go/internal/httpapi"
	"controld_bridge/core-go/internal/metrics"
	"controld_bridge/core-go/internal/mqtt"
	"controld_bridge/core-go/internal/profilesync"
	"controld_bridge/core-go/internal/registry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		l := httpapi.NewLogger(os.Getenv("LOG_LEVEL"))
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := httpapi.NewLogger(cfg.Log.Level)

	syncEnabled := true
	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrMissingToken) {
			logger.Fatal().Err(err).Msg("invalid configuration")
		}
		logger.Error().Err(err).Msg("no Control D API token configured; profile sync is disabled")
		syncEnabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var pool *db.Pool
	var store registry.Store
	if cfg.Database.URL != "" {
		p, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		store = p.Queries()
	}

	host := registry.NewHost(logger, store)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
		c, err := mqtt.Connect(logger, mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Topics:   topics,
		})
		if err != nil {
			logger.Error().Err(err).Msg("mqtt unavailable; continuing without it")
		} else {
			mqttClient = c
			bridge := mqtt.NewBridge(logger, c, host, topics)
			host.AddObserver(bridge)
			c.SetOnConnect(bridge.PublishAll)
			if err := bridge.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("mqtt command subscription failed")
			}
		}
	}

	if err := host.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to restore cached entities")
	}

	client := controld.New(logger, controld.Options{
		BaseURL: cfg.ControlD.BaseURL,
		Token:   cfg.ControlD.APIToken,
		Timeout: cfg.Timeout(),
	}, m)
	engine := profilesync.NewEngine(logger, client, host, nil, m)
	scheduler := profilesync.NewScheduler(logger, engine, profilesync.Options{
		RefreshInterval: cfg.RefreshInterval(),
	}, m)

	var devices httpapi.DeviceService
	if syncEnabled {
		devices = client
		scheduler.Start(ctx)
	}

	h := httpapi.NewHandler(logger, pool, httpapi.Options{
		Entities: host,
		Devices:  devices,
		Gate:     engine.Gate(),
		Metrics:  m,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("controld-bridge listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	mqttClient.Close()
	logger.Info().Msg("shutdown complete")
}
