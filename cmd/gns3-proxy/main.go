// gns3-proxy is an authenticating, filtering reverse proxy that fronts a
// pool of GNS3 controller backends, selecting one per client by
// authenticated username and rewriting credentials before forwarding.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/srieger1/gns3-proxy/internal/accesslog"
	"github.com/srieger1/gns3-proxy/internal/config"
	"github.com/srieger1/gns3-proxy/internal/healthcheck"
	"github.com/srieger1/gns3-proxy/internal/levellog"
	"github.com/srieger1/gns3-proxy/internal/policy"
	"github.com/srieger1/gns3-proxy/internal/proxyd"
	"github.com/srieger1/gns3-proxy/internal/resolve"
	"github.com/srieger1/gns3-proxy/internal/rlimit"
)

const shutdownGracePeriod = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config-file", "./gns3_proxy_config.ini", "Path to the INI-style configuration file.")
	logLevel := flag.String("log-level", "INFO", "One of DEBUG, INFO, WARNING, ERROR, CRITICAL.")
	healthCheckInterval := flag.Duration("healthcheck-interval", 30*time.Second, "Backend health probe interval.")
	flag.Parse()

	level, err := levellog.ParseLevel(*logLevel)
	if err != nil {
		log.Printf("ERR %v", err)
		return 1
	}
	levellog.SetLevel(level)

	cfg, err := config.ReadFile(*configFile)
	if err != nil {
		levellog.Criticalf("loading %s: %v", *configFile, err)
		return 1
	}

	if cfg.OpenFileLimit > 0 {
		got, err := rlimit.Raise(cfg.OpenFileLimit)
		if err != nil {
			levellog.Warningf("could not raise open-file limit to %d: %v", cfg.OpenFileLimit, err)
		} else {
			levellog.Infof("open-file limit is %d", got)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := resolve.New(len(cfg.Servers) + 1)
	if err != nil {
		levellog.Criticalf("building resolver: %v", err)
		return 1
	}
	resolvedIPs, err := resolver.ResolveAll(ctx, cfg.Servers)
	if err != nil {
		levellog.Criticalf("resolving backends: %v", err)
		return 1
	}
	backends := make(map[string]string, len(resolvedIPs))
	for name, ip := range resolvedIPs {
		backends[name] = net.JoinHostPort(ip.String(), strconv.Itoa(cfg.BackendPort))
	}

	eng := policy.New(cfg)
	access := accesslog.New(os.Stdout)
	prober := healthcheck.New(*healthCheckInterval)

	srv := proxyd.New(cfg, eng, backends, access, prober)
	if err := srv.Listen(); err != nil {
		levellog.Criticalf("%v", err)
		return 2
	}
	srv.Start()
	levellog.Infof("gns3-proxy listening on %s:%d", cfg.BindAddr, cfg.BindPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	levellog.Infof("received signal %v, shutting down", s)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		levellog.Warningf("shutdown: %v", err)
	}
	return 0
}
