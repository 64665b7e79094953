// Ticketbridged is the restaurant hardware bridge daemon: it subscribes
// to the cloud's order change-feed, claims and prints jobs across a fleet
// of local printers, bridges alerts to wearable notifiers, and exposes a
// local HTTP surface for direct LAN print requests.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/posforge/ticketbridge/engine"
	"github.com/posforge/ticketbridge/internal/cloud"
	ticketconfig "github.com/posforge/ticketbridge/internal/config"
	"github.com/posforge/ticketbridge/internal/ingress"
	"github.com/posforge/ticketbridge/internal/metrics"
	"github.com/posforge/ticketbridge/internal/notifier"
	"github.com/posforge/ticketbridge/internal/pipeline"
)

// version is overridden at build time with -ldflags.
var version = "dev"

// Config is the process-level bootstrap configuration: everything needed
// before the persistent config store can be opened and loaded. Per-tenant
// identity and cloud credentials live in the daemon config module instead
// (internal/config); they are read once at boot, so a change takes effect
// on the next start.
type Config struct {
	DBPath       string `envDefault:"ticketbridge.sqlite3"`
	HTTPAddr     string `envDefault:"0.0.0.0:3333" env:"HTTP_ADDR"`
	NotifierAddr string `envDefault:"0.0.0.0:3334" env:"NOTIFIER_ADDR"`
}

func main() {
	conf, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "TICKETBRIDGE_"})
	if err != nil {
		panic(fmt.Errorf("parsing environment config: %w", err))
	}

	db, err := engine.OpenDB(conf.DBPath)
	if err != nil {
		panic(fmt.Errorf("opening database: %w", err))
	}
	engine.MustMigrate(db, ticketconfig.Migration)

	router := engine.NewRouter(nil)
	app := engine.NewApp(conf.HTTPAddr, router, db)
	ticketconfig.RegisterSpecs(app.Configs())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	daemonCfg, err := ticketconfig.LoadDaemonConfig(ctx, app.ConfigStore())
	if err != nil {
		// Missing required config is a fatal misconfiguration: exit code 1.
		slog.Error("loading daemon config", "error", err)
		os.Exit(1)
	}

	registry, err := ticketconfig.BuildRegistry(ctx, app.ConfigStore())
	if err != nil {
		panic(fmt.Errorf("building printer registry: %w", err))
	}

	events := engine.NewEventLogger(db)

	var subscriber cloud.ChangeFeedSubscriber
	var poller cloud.OrderPoller
	if daemonCfg.SupabaseURL != "" {
		subscriber = cloud.NewWSChangeFeedSubscriber(toWSURL(daemonCfg.SupabaseURL))
		poller = cloud.NewRESTOrderPoller(daemonCfg.SupabaseURL, daemonCfg.SupabaseKey)
	} else {
		slog.Warn("no supabase_url configured; the daemon will accept local print requests only")
	}

	claims := cloud.NewClaimClient(daemonCfg.SupabaseURL, daemonCfg.RestaurantID, daemonCfg.DeviceID, events)
	fetcher := cloud.NewPayloadFetcher(daemonCfg.SupabaseURL)

	hub := notifier.NewHub()
	notifierServer := notifier.NewServer(hub)

	if err := notifier.NewBLEPeripheral(hub).Start(); err != nil {
		slog.Warn("bluetooth notifier peripheral unavailable, wearables must use WebSocket", "error", err)
	} else {
		slog.Info("bluetooth notifier peripheral advertising")
	}

	m := metrics.New()

	pipe := pipeline.New(subscriber, poller, claims, fetcher, registry, hub, m, daemonCfg.RestaurantID, version)

	localIngress := ingress.New(registry, pipe.Dispatcher(), daemonCfg.DeviceID, daemonCfg.RestaurantID, version)

	app.Add(pipe)
	app.Add(localIngress)
	app.Add(m)

	notifierRouter := engine.NewRouter(nil)
	notifierApp := engine.NewApp(conf.NotifierAddr, notifierRouter, db)
	notifierApp.Add(notifierServer)

	app.ProcMgr.Add(func(ctx context.Context) error {
		notifierApp.ProcMgr.Run(ctx)
		return ctx.Err()
	})

	app.ProcMgr.Add(engine.Poll(30*time.Second, func(ctx context.Context) bool {
		m.SetNotifierDevices(hub.Count())
		return false
	}))

	slog.Info("starting ticketbridged", "version", version, "http_addr", conf.HTTPAddr, "notifier_addr", conf.NotifierAddr, "device_id", daemonCfg.DeviceID)
	app.ProcMgr.Run(ctx)
	slog.Info("ticketbridged has shut down")
}

// toWSURL rewrites an https:// REST base URL into the wss:// realtime
// endpoint the cloud's change-feed is served from.
func toWSURL(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:] + "/realtime/v1/websocket"
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:] + "/realtime/v1/websocket"
	default:
		return baseURL
	}
}
