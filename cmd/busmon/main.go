// Command busmon watches message bus topics and renders the live
// traffic in place in the terminal: per-topic rates, last payloads,
// and the connection status of the underlying client.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	cfg := Config{}

	var topics string
	flag.StringVar(&cfg.ServerURL, "server", "http://localhost:8090", "backend base url")
	flag.StringVar(&cfg.Token, "token", "", "bearer token (optional)")
	flag.StringVar(&topics, "topics", "", "comma-separated topics to watch (e.g. chat/general,alerts)")
	flag.IntVar(&cfg.Rows, "rows", 5, "recent messages kept per topic")
	flag.DurationVar(&cfg.Interval, "interval", 1*time.Second, "ui refresh interval")
	flag.Parse()

	for _, t := range strings.Split(topics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			cfg.Topics = append(cfg.Topics, t)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := Run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatalf("busmon error: %v", err)
	}
}
