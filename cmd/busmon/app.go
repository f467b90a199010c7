package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bosbase/go-sdk/bus"
	"github.com/bosbase/go-sdk/transport"
)

func Run(ctx context.Context, cfg Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("missing -server")
	}
	if len(cfg.Topics) == 0 {
		return fmt.Errorf("no topics specified: set -topics")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 5
	}

	var ui *InPlaceUI = &InPlaceUI{}
	if err := ui.Init(); err != nil {
		log.Printf("ui init failed: %v, falling back to plain output", err)
		ui = nil
	}
	if ui != nil {
		defer ui.Close()
	}

	state := NewMonState(cfg)

	api := &transport.Client{BaseURL: cfg.ServerURL}
	if cfg.Token != "" {
		api.Auth = transport.StaticToken(cfg.Token)
	}
	client := bus.NewClient(api)
	client.OnDisconnect = func(activeKeys []string) {
		state.RecordDrop(activeKeys)
	}
	defer client.Disconnect()

	for _, topic := range cfg.Topics {
		if _, err := client.Subscribe(topic, func(msg bus.Message) {
			state.Record(msg)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	state.SetConnected(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// Reconnects happen inside the client; reflect its view.
				state.SetConnected(client.IsConnected())
				if vm, ok := state.SnapshotAndResetWindow(); ok {
					Render(ui, vm, cfg.Rows)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}
