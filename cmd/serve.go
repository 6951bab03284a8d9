package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetdns/querylogd/engine"
	"github.com/fleetdns/querylogd/evt"
	"github.com/fleetdns/querylogd/log"
	"github.com/fleetdns/querylogd/metrics"
	"github.com/fleetdns/querylogd/querylog"
	"github.com/fleetdns/querylogd/server"
	"github.com/fleetdns/querylogd/upstream"
	"github.com/fleetdns/querylogd/util"
)

//nolint:gochecknoglobals
var signals chan os.Signal

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "start the query log cache (default command)",
		RunE:  startServer,
	}
}

func startServer(_ *cobra.Command, _ []string) error {
	if cfg == nil {
		return errors.New("configuration was not loaded")
	}

	printBanner()

	cfg.LogConfig(log.PrefixedLog("config"))

	signals = make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.StartCollection()

	// the engine answers 503 until the configuration is fixed, the API stays reachable
	store, err := querylog.NewStore(cfg.Database)
	if err != nil {
		log.Log().Error("can't open query log store, ingestion is disabled: ", err)
	}

	resolver := upstream.NewHostnameResolver(cfg.ClientLookup)
	fetcher := upstream.NewHTTPFetcher(cfg.Nodes)

	eng := engine.New(cfg.QueryLogCache, cfg.Nodes, store, fetcher, resolver)

	l, err := net.Listen("tcp", serverAddress(cfg.HTTP.Addr))
	if err != nil {
		util.LogOnError("can't close engine: ", eng.Close())

		return fmt.Errorf("can't start server: %w", err)
	}

	srv := server.NewServer(cfg.HTTP, eng)

	errChan := make(chan error, 1)

	go func() {
		errChan <- srv.Serve(ctx, l)
	}()

	eng.Start(ctx)

	evt.Bus().Publish(evt.ApplicationStarted, util.Version, util.BuildTime)

	select {
	case <-signals:
		log.Log().Infof("Terminating...")

		cancel()

		err = <-errChan
	case err = <-errChan:
		log.Log().Error("server failed: ", err)

		cancel()
	}

	util.LogOnError("can't close engine: ", eng.Close())

	return err
}

func serverAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return ":" + addr
	}

	return addr
}

func printBanner() {
	log.Log().Info("_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/")
	log.Log().Info("_/                                                              _/")
	log.Log().Info("_/                          querylogd                           _/")
	log.Log().Info("_/                                                              _/")
	log.Log().Infof("_/  Version: %-18s Build time: %-18s  _/", util.Version, util.BuildTime)
	log.Log().Info("_/                                                              _/")
	log.Log().Info("_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/_/")
}
