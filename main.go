package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/sentry.report/internal/alerts"
	"github.com/banshee-data/sentry.report/internal/behavior"
	"github.com/banshee-data/sentry.report/internal/bridge"
	"github.com/banshee-data/sentry.report/internal/config"
	"github.com/banshee-data/sentry.report/internal/eventbus"
	"github.com/banshee-data/sentry.report/internal/httputil"
	"github.com/banshee-data/sentry.report/internal/pipeline"
	"github.com/banshee-data/sentry.report/internal/store"
	"github.com/banshee-data/sentry.report/internal/timeutil"
	"github.com/banshee-data/sentry.report/internal/track"
	"github.com/banshee-data/sentry.report/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	zonesPath  = flag.String("zones", "", "Path to the zone definitions file (overrides config)")
	dbPath     = flag.String("db", "", "Path to the sqlite journal (overrides config)")
	detections = flag.String("detections", "-", "NDJSON detection stream, '-' for stdin")
	cameraID   = flag.String("camera", "cam-1", "Camera id for frames without one")
	listen     = flag.String("listen", ":8080", "Status API listen address, empty to disable")
)

// ingestFrame is one NDJSON line on the detection stream.
type ingestFrame struct {
	Camera string `json:"camera,omitempty"`
	pipeline.Frame
}

func main() {
	flag.Parse()
	log.Printf("sentry %s (%s)", version.Version, version.GitSHA)

	cfg := &config.Config{}
	if _, err := os.Stat(*configPath); err == nil {
		var loadErr error
		cfg, loadErr = config.Load(*configPath)
		if loadErr != nil {
			log.Fatalf("failed to load config: %v", loadErr)
		}
	} else if *configPath != config.DefaultConfigPath {
		log.Fatalf("config file not found: %s", *configPath)
	}

	zones := behavior.NewZoneSet()
	zonesFile := *zonesPath
	if zonesFile == "" {
		zonesFile = cfg.ZonesPath
	}
	if zonesFile != "" {
		defs, err := config.LoadZones(zonesFile)
		if err != nil {
			log.Fatalf("failed to load zones: %v", err)
		}
		for _, z := range defs {
			if err := zones.Set(z); err != nil {
				log.Fatalf("invalid zone %q: %v", z.ID, err)
			}
		}
		log.Printf("loaded %d zones from %s", len(defs), zonesFile)
	}

	journalPath := *dbPath
	if journalPath == "" {
		journalPath = cfg.GetDBPath()
	}
	journal, err := store.Open(journalPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	bus := eventbus.NewBus(eventbus.BusConfig{
		HistorySize: cfg.GetHistorySize(),
		QueueSize:   cfg.GetQueueSize(),
	}, nil)
	bus.Start()
	defer bus.Stop()

	// Everything on the bus goes to the journal.
	bus.Subscribe("*", func(e eventbus.Event) {
		if err := journal.RecordEvent(e); err != nil {
			log.Printf("failed to journal event %s: %v", e.ID, err)
		}
	})

	dispatcher := buildDispatcher(cfg, journal)
	dispatcher.Start()
	defer dispatcher.Stop()

	mapper := pipeline.NewAlertMapper(bus, dispatcher)
	mapper.Start()
	defer mapper.Stop()

	brokers := buildBridge(cfg, bus)
	if brokers != nil {
		brokers.Start()
		defer brokers.Stop()
	}

	cam := pipeline.NewCamera(pipeline.CameraConfig{
		ID: *cameraID,
		Tracker: track.TrackerConfig{
			IoUThreshold:      cfg.GetIoUThreshold(),
			MinHits:           cfg.GetMinHits(),
			MaxAge:            cfg.GetMaxAge(),
			MaxHistory:        cfg.GetMaxHistory(),
			OptimalAssignment: cfg.GetOptimalAssignment(),
		},
		Behavior: behavior.AnalyzerConfig{
			GroupDistanceThreshold:    cfg.GetGroupDistanceThreshold(),
			GroupCooldown:             cfg.GetGroupCooldown(),
			DirectionChangesThreshold: cfg.GetDirectionChangesThreshold(),
			ErraticWindow:             cfg.GetErraticWindow(),
			StateMaxAge:               cfg.GetStateMaxAge(),
		},
	}, zones, bus, timeutil.RealClock{})
	cam.Start()
	defer cam.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingest(ctx, *detections, cam); err != nil {
			log.Printf("detection ingest stopped: %v", err)
		}
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveStatus(ctx, *listen, bus, journal, zones, cam)
		}()
	}

	wg.Wait()
	log.Printf("graceful shutdown complete")
}

// buildDispatcher assembles the alert channels named in the config.
func buildDispatcher(cfg *config.Config, journal *store.Store) *alerts.Dispatcher {
	channels := make(map[string]alerts.Channel)
	client := httputil.NewStandardClient(nil)

	if cfg.Alerts.WebhookURL != "" {
		channels[alerts.ChannelWebhook] = alerts.NewWebhookChannel(cfg.Alerts.WebhookURL, cfg.Alerts.Headers, client)
	}
	if cfg.Alerts.SMTPAddr != "" {
		channels[alerts.ChannelEmail] = alerts.NewEmailChannel(cfg.Alerts.SMTPAddr, cfg.Alerts.SMTPFrom, nil)
	}
	if cfg.Alerts.SMSEndpoint != "" {
		channels[alerts.ChannelSMS] = alerts.NewSMSChannel(cfg.Alerts.SMSEndpoint, cfg.Alerts.SMSToken, cfg.Alerts.SMSFrom, client)
	}
	if cfg.Alerts.PushEndpoint != "" {
		channels[alerts.ChannelPush] = alerts.NewPushChannel(cfg.Alerts.PushEndpoint, cfg.Alerts.PushKey, client)
	}

	recipients := make(map[alerts.Priority]map[string][]string)
	for prio, byChannel := range cfg.Alerts.Recipients {
		recipients[alerts.Priority(prio)] = byChannel
	}

	d := alerts.NewDispatcher(alerts.DispatcherConfig{
		MaxRetries:  cfg.GetMaxRetries(),
		RetryDelay:  cfg.GetRetryDelay(),
		SendTimeout: cfg.GetSendTimeout(),
	}, nil, nil, channels, recipients)

	d.SetObserver(func(task *alerts.Task) {
		if err := journal.RecordAlert(task.Alert); err != nil {
			log.Printf("failed to journal alert %s: %v", task.Alert.ID, err)
		}
		if err := journal.RecordDispatch(task); err != nil {
			log.Printf("failed to journal dispatch of %s: %v", task.Alert.ID, err)
		}
	})
	return d
}

// buildBridge assembles the broker legs addressed in the config, or nil
// when none are.
func buildBridge(cfg *config.Config, bus *eventbus.Bus) *bridge.Bridge {
	var publishers []bridge.Publisher

	if cfg.Bridge.NATSURL != "" || cfg.GetNATSEmbedded() {
		pub, err := bridge.NewNATSPublisher(bridge.NATSConfig{
			URL:      cfg.Bridge.NATSURL,
			Embedded: cfg.GetNATSEmbedded(),
			Port:     cfg.GetNATSPort(),
		})
		if err != nil {
			log.Fatalf("failed to start nats bridge: %v", err)
		}
		publishers = append(publishers, pub)
	}
	if cfg.Bridge.RedisAddr != "" {
		pub, err := bridge.NewRedisPublisher(bridge.RedisConfig{
			Addr: cfg.Bridge.RedisAddr,
			DB:   cfg.GetRedisDB(),
		})
		if err != nil {
			log.Fatalf("failed to start redis bridge: %v", err)
		}
		publishers = append(publishers, pub)
	}

	if len(publishers) == 0 {
		return nil
	}
	return bridge.New(bus, cfg.Bridge.Pattern, publishers...)
}

// ingest feeds NDJSON detection frames into the camera worker until the
// stream ends or the context is cancelled.
func ingest(ctx context.Context, path string, cam *pipeline.Camera) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	// Scan in a separate goroutine so a quiet stream does not hold up
	// shutdown.
	lines := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			if len(line) == 0 {
				continue
			}
			var f ingestFrame
			if err := json.Unmarshal(line, &f); err != nil {
				log.Printf("skipping malformed frame: %v", err)
				continue
			}
			cam.Submit(f.Frame)
		}
	}
}

// serveStatus exposes a small read-only API over the bus history, the
// journal and the zone table.
func serveStatus(ctx context.Context, addr string, bus *eventbus.Bus, journal *store.Store,
	zones *behavior.ZoneSet, cam *pipeline.Camera) {

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": version.Version, "git_sha": version.GitSHA})
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, bus.Recent(r.URL.Query().Get("type"), 100))
	})
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		recent, err := journal.RecentAlerts(100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, recent)
	})
	mux.HandleFunc("/api/zones", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, zones.Snapshot())
	})
	mux.HandleFunc("/api/occupancy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cam.ZoneCounts())
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start status server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("status server shutdown error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
