package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/config"
	"collab-server/core"
	"collab-server/handlers/api/activity"
	"collab-server/handlers/api/content"
	"collab-server/handlers/api/events"
	"collab-server/handlers/api/locks"
	"collab-server/handlers/api/presence"
	"collab-server/handlers/api/streams"
	"collab-server/handlers/auth"
	"collab-server/handlers/websocket"
	"collab-server/metrics"
	authMiddleware "collab-server/middleware"
	"collab-server/stores"
)

func setupRouter(svc *collab.Service, policy core.AccessPolicy) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/collab", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)

			r.Route("/presence", func(r chi.Router) {
				r.Post("/join", presence.HandleJoin(svc))
				r.Post("/leave", presence.HandleLeave(svc))
				r.Post("/cursor", presence.HandleCursor(svc))
				r.Post("/heartbeat", presence.HandleHeartbeat(svc))
				r.Get("/{kind}/{id}", presence.HandleRoster(svc))
			})

			r.Route("/locks", func(r chi.Router) {
				r.Post("/acquire", locks.HandleAcquire(svc, policy))
				r.Post("/release", locks.HandleRelease(svc, policy))
				r.Post("/force-release", locks.HandleForceRelease(svc, policy))
				r.Post("/heartbeat", locks.HandleHeartbeat(svc, policy))
				r.Get("/{kind}/{id}", locks.HandleGet(svc))
			})

			r.Route("/streams", func(r chi.Router) {
				r.Post("/start", streams.HandleStart(svc, policy))
				r.Post("/chunk", streams.HandleChunk(svc))
				r.Post("/end", streams.HandleEnd(svc))
			})

			r.Route("/events", func(r chi.Router) {
				r.Post("/subscribe", events.HandleSubscribe(svc))
				r.Post("/unsubscribe", events.HandleUnsubscribe(svc))
				r.Get("/poll", events.HandlePoll(svc))
			})

			r.Route("/content", func(r chi.Router) {
				r.Post("/change", content.HandleChange(svc))
				r.Post("/sync", content.HandleSync(svc))
			})

			r.Get("/activity/{kind}/{id}", activity.HandleRecent(svc))
		})
	})

	return r
}

func waitForShutdown(cancel context.CancelFunc, svc *collab.Service, gateway *websocket.Gateway) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	cancel()
	svc.Close()
	gateway.Server().Close(nil)
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", "", "The address to listen on (overrides the config file).")
	logLevel := flag.String("loglevel", "", "The log level (debug, info, warn, error) (overrides the config file).")
	configPath := flag.String("config", "", "Path to the YAML config file.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}
	if *listenAddress != "" {
		cfg.Server.Listen = *listenAddress
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	st := stores.GetStores()

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := collab.NewService(ctx, st.Locks, st.Activity, cfg.Collab.Settings(), logrus.StandardLogger())
	if err != nil {
		logrus.Fatalf("Failed to build collaboration service: %v", err)
	}
	go svc.Run(ctx)

	gateway := websocket.SetupSocketIO(svc)
	svc.Hub.SetEmitter(gateway)

	metrics.NewCollector(prometheus.DefaultRegisterer, svc)

	// Resource ACLs live in the workspace manager, which gates requests
	// before they reach this service.
	policy := core.AccessPolicyFunc(func(context.Context, core.Actor, core.ResourceKey) bool { return true })

	r := setupRouter(svc, policy)
	r.Mount("/socket.io/", gateway.Server().ServeHandler(nil))

	logrus.WithField("addr", cfg.Server.Listen).Info("starting server")
	go func() {
		if err := http.ListenAndServe(cfg.Server.Listen, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(cancel, svc, gateway)
}
