// greenhoused – the greenhouse telemetry broker daemon.
//
// Usage:
//
//	greenhoused [--port <n>] [--host <addr>] [--config <broker.yaml>] [--log-level <level>]
//
// The broker listens on a single TCP port (default 23048) and routes frames
// between sensor nodes and control panels. Settings are resolved in
// ascending precedence: defaults, config file, BROKER_PORT environment
// variable, command-line flags.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mkleiva/greenhouse/internal/broker"
)

func main() {
	configPath := flag.String("config", "", "path to broker.yaml (optional)")
	port := flag.Int("port", 0, "listening port (overrides config file and BROKER_PORT)")
	host := flag.String("host", "", "bind address (default: all interfaces)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := broker.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if envPort, ok := broker.PortFromEnv(); ok {
		cfg.Port = envPort
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logrus.New()
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("bad log level %q: %v", cfg.LogLevel, err)
	}
	log.SetLevel(lvl)

	b, err := broker.New(cfg, log)
	if err != nil {
		log.Fatalf("broker init: %v", err)
	}
	if err := b.Start(); err != nil {
		// Bind failure is the one unrecoverable startup error.
		log.Fatalf("broker start: %v", err)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received %v, shutting down", sig)
	b.Stop()
}
