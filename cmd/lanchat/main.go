package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"lanchat"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	def := lanchat.DefaultConfig()
	port := flag.Int("port", def.Port, "TCP and UDP protocol port")
	broadcast := flag.String("broadcast", def.Broadcast, "IPv4 broadcast address for discovery")
	name := flag.String("name", "", "Display name (defaults to your IP until set)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting node", "version", Version, "port", *port)

	node := lanchat.New(lanchat.Config{Port: *port, Broadcast: *broadcast})
	node.SetOnMessage(func(name, msg string) {
		fmt.Printf("[%s] %s\n", name, msg)
	})
	if *name != "" {
		if err := node.SetName(*name); err != nil {
			fmt.Fprintf(os.Stderr, "invalid name: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lanchat.RunMetrics(ctx, node, 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
		node.Close()
		os.Exit(0)
	}()

	node.Start()

	// Everything typed on stdin is said to the session; /name changes the
	// display name, /quit leaves.
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			node.Close()
			return
		case strings.HasPrefix(line, "/name "):
			if err := node.SetName(strings.TrimPrefix(line, "/name ")); err != nil {
				fmt.Fprintf(os.Stderr, "invalid name: %v\n", err)
			}
		default:
			if err := node.Say(line); err != nil {
				fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
			}
		}
	}
	node.Close()
}
