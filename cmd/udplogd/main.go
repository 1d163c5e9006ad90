// Command udplogd mirrors lines read from stdin, or a periodic heartbeat,
// to the local network through udplog.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/coffersTech/udplog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// daemonFlags are the settings that do not belong to udplog.Config.
type daemonFlags struct {
	metricsAddr string
	heartbeat   time.Duration
	stdin       bool
	verbose     bool
}

func run(args []string) error {
	cfg, df, err := parseArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if df.verbose {
		level = slog.LevelDebug
	}
	diag := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	log.Println("udplogd starting...")

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metricsSrv *http.Server
	if df.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		metricsSrv = &http.Server{Addr: df.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("Metrics listening on %s", df.metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	// 2. Mirror
	mirror := udplog.New(cfg, udplog.WithRegisterer(reg), udplog.WithLogger(diag))
	if err := mirror.Autostart(); err != nil {
		return fmt.Errorf("start mirror: %w", err)
	}
	log.Printf("Mirror %s: log port %d, command port %d, state %s",
		mirror.Identifier(), cfg.LogPort, cfg.CommandPort, mirror.State())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Line sources
	if df.stdin {
		go func() {
			if err := pump(ctx, os.Stdin, slog.Default()); err != nil {
				log.Printf("stdin: %v", err)
			}
		}()
	}
	if df.heartbeat > 0 {
		go heartbeat(ctx, df.heartbeat, mirror)
	}

	// 4. Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down...")

	mirror.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics shutdown error: %v", err)
		}
	}
	log.Printf("udplogd exited (%d lines dropped).", mirror.DropCount())
	return nil
}

// parseArgs layers defaults, an optional YAML file, UDPLOG_* variables and
// explicitly set flags, in that order.
func parseArgs(args []string) (udplog.Config, daemonFlags, error) {
	var (
		configPath string
		df         daemonFlags
		flagCfg    = udplog.DefaultConfig()
	)

	fs := pflag.NewFlagSet("udplogd", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "YAML config file")
	fs.Uint16Var(&flagCfg.LogPort, "log-port", flagCfg.LogPort, "UDP port log lines are sent to")
	fs.Uint16Var(&flagCfg.CommandPort, "command-port", flagCfg.CommandPort, "UDP port for control commands (0 picks one)")
	fs.IntVar(&flagCfg.MaxLine, "max-line", flagCfg.MaxLine, "maximum datagram size in bytes")
	fs.IntVar(&flagCfg.QueueDepth, "queue-depth", flagCfg.QueueDepth, "lines buffered for sending")
	fs.StringVar(&flagCfg.Policy, "policy", flagCfg.Policy, "full queue policy: drop or block")
	fs.StringVar(&flagCfg.Format, "format", flagCfg.Format, "line format: text, json or syslog")
	fs.StringVar(&flagCfg.MinLevel, "min-level", flagCfg.MinLevel, "lowest level mirrored (debug, info, warn, error)")
	fs.BoolVar(&flagCfg.PrefixIdentifier, "prefix", flagCfg.PrefixIdentifier, "prefix lines with the device identifier")
	fs.StringVar(&flagCfg.IdentifierPrefix, "identifier-prefix", flagCfg.IdentifierPrefix, "identifier prefix")
	fs.StringSliceVar(&flagCfg.Interfaces, "interface", nil, "preferred interfaces for broadcast, in order")
	fs.BoolVar(&flagCfg.MDNS, "mdns", flagCfg.MDNS, "answer mDNS queries for <identifier>.local")
	fs.StringVar(&flagCfg.RegistryURL, "registry-url", "", "register with this log registry")
	fs.StringVar(&flagCfg.RegistryKey, "registry-key", "", "registry API key")
	fs.StringVar(&flagCfg.ServiceName, "service", flagCfg.ServiceName, "service name to announce")
	fs.StringVar(&df.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&df.heartbeat, "heartbeat", 0, "log a heartbeat line at this interval")
	fs.BoolVar(&df.stdin, "stdin", true, "mirror lines read from stdin")
	fs.BoolVarP(&df.verbose, "verbose", "v", false, "print mirror diagnostics")

	if err := fs.Parse(args); err != nil {
		return udplog.Config{}, df, err
	}
	if fs.NArg() > 0 {
		return udplog.Config{}, df, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := udplog.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = udplog.LoadConfigFile(configPath); err != nil {
			return udplog.Config{}, df, err
		}
	}
	udplog.ApplyEnv(&cfg)

	set := map[string]func(){
		"log-port":          func() { cfg.LogPort = flagCfg.LogPort },
		"command-port":      func() { cfg.CommandPort = flagCfg.CommandPort },
		"max-line":          func() { cfg.MaxLine = flagCfg.MaxLine },
		"queue-depth":       func() { cfg.QueueDepth = flagCfg.QueueDepth },
		"policy":            func() { cfg.Policy = flagCfg.Policy },
		"format":            func() { cfg.Format = flagCfg.Format },
		"min-level":         func() { cfg.MinLevel = flagCfg.MinLevel },
		"prefix":            func() { cfg.PrefixIdentifier = flagCfg.PrefixIdentifier },
		"identifier-prefix": func() { cfg.IdentifierPrefix = flagCfg.IdentifierPrefix },
		"interface":         func() { cfg.Interfaces = flagCfg.Interfaces },
		"mdns":              func() { cfg.MDNS = flagCfg.MDNS },
		"registry-url":      func() { cfg.RegistryURL = flagCfg.RegistryURL },
		"registry-key":      func() { cfg.RegistryKey = flagCfg.RegistryKey },
		"service":           func() { cfg.ServiceName = flagCfg.ServiceName },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return udplog.Config{}, df, err
	}
	return cfg, df, nil
}

// pump logs every line of r at info level until EOF or ctx is done.
func pump(ctx context.Context, r io.Reader, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if line := sc.Text(); line != "" {
			logger.Info(line)
		}
	}
	return sc.Err()
}

func heartbeat(ctx context.Context, every time.Duration, m *udplog.Mirror) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			slog.Info("heartbeat", "seq", n, "drops", m.DropCount(), "state", m.State().String())
		}
	}
}
