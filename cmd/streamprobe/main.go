// streamprobe connects directly to the transcription hub and prints every
// event frame to the console. Useful for verifying hub connectivity and
// inspecting payloads without running the full gateway.
//
// Usage: go run ./cmd/streamprobe --url wss://hub.example.com/stream --token <access-token>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voxform/callstream/internal/events"
	"github.com/voxform/callstream/internal/transport"
)

func main() {
	url := flag.String("url", "", "hub WebSocket URL")
	token := flag.String("token", os.Getenv("CALLSTREAM_TOKEN"), "access token")
	eventList := flag.String("events", "", "comma-separated event names (default: all known)")
	verbose := flag.Bool("verbose", false, "pretty-print payload JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" || *token == "" {
		logger.Error("--url and --token are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := transport.DefaultConfig()
	cfg.URL = *url
	cfg.Token = func(context.Context) (string, error) { return *token, nil }

	client := transport.NewClient(cfg, logger)
	client.OnClose(func(err error) {
		logger.Error("connection closed", "error", err)
		cancel()
	})

	names := []string{
		events.FormDataExtracted,
		events.TranscriptSegment,
		events.CallStatus,
		events.ConnectionStatus,
		events.ErrorEvent,
	}
	if *eventList != "" {
		names = strings.Split(*eventList, ",")
	}

	for _, name := range names {
		name := name
		client.On(name, func(payload json.RawMessage) {
			if *verbose {
				var buf map[string]any
				if err := json.Unmarshal(payload, &buf); err == nil {
					pretty, _ := json.MarshalIndent(buf, "", "  ")
					fmt.Printf("--- %s ---\n%s\n", name, pretty)
					return
				}
			}
			fmt.Printf("%s: %s\n", name, payload)
		})
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Stop()

	logger.Info("connected, streaming events", "url", *url, "events", names)
	<-ctx.Done()
}
