// Command devserver runs a standalone development backend speaking both
// realtime protocols: the text event stream on /api/realtime and the
// message bus socket on /api/bus. It exists so client code has
// something real to talk to without a full deployment.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bosbase/go-sdk/internal/devhub"
)

func main() {
	listen := flag.String("listen", "", "http listen address (overrides config)")
	configPath := flag.String("config", "", "path to yaml config file")
	publishToken := flag.String("publish-token", "", "bearer token required for bus publishes (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *publishToken != "" {
		cfg.PublishToken = *publishToken
	}

	log, err := buildLogger(cfg.Debug)
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	hubOpts := []devhub.Option{devhub.WithLogger(log)}
	if cfg.PublishToken != "" {
		hubOpts = append(hubOpts, devhub.WithPublishToken(cfg.PublishToken))
	}
	hub := devhub.New(hubOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/realtime", hub.ServeStream)
	r.Post("/api/realtime", hub.HandleSubscriptions)
	r.HandleFunc("/api/bus", hub.ServeBus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/streams", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"streams": hub.StreamClientCount(),
		})
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("devserver listening",
			zap.String("addr", cfg.Listen),
			zap.Bool("publishAuth", cfg.PublishToken != ""))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	log.Info("shutting down")
	_ = srv.Close()
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
