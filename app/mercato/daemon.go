package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"

	"github.com/mercato/go-mercato/config"
	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/repo"
	"github.com/mercato/go-mercato/lib/types"
	"github.com/mercato/go-mercato/lib/types/store"
	"github.com/mercato/go-mercato/service/netapp"
	"github.com/mercato/go-mercato/service/offerbook"
	"github.com/mercato/go-mercato/service/openoffer"
	"github.com/mercato/go-mercato/submodule/network"
	"github.com/mercato/go-mercato/submodule/pricefeed"
	"github.com/mercato/go-mercato/submodule/wallet"
)

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "run the mercato node",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "network",
			Usage: "network name, isolates the offer protocol per network",
			Value: "main",
		},
		&cli.BoolFlag{
			Name:  "log-to-file",
			Usage: "write logs to a rotated file in the repo instead of stderr",
		},
	},
	Action: runDaemon,
}

func runDaemon(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	dir, err := homedir.Expand(cctx.String("repo"))
	if err != nil {
		return err
	}

	r, err := repo.NewFSRepo(dir, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	if cctx.Bool("log-to-file") {
		logging.SetupLogs(dir, "mercato")
	}

	cfg := r.Config()

	key, err := r.PeerKey()
	if err != nil {
		return err
	}

	h, err := network.BuildHost(cfg.Net, key)
	if err != nil {
		return err
	}
	defer h.Close()

	net := netapp.New(ctx, h, cctx.String("network"))
	defer net.Close()

	feed, runFeed := buildFeed(cfg)
	if runFeed != nil {
		go runFeed(ctx)
	}

	w, err := wallet.New(r.MetaStore())
	if err != nil {
		return err
	}

	bookStore := offerbook.NewLocalStore(0)
	book := offerbook.New(bookStore, feed)

	list := openoffer.NewList(r.MetaStore())
	mgr := openoffer.NewManager(ctx, list, book, net, w, feed, cfg.Offer)

	if err := network.Bootstrap(ctx, h, cfg.Net.Bootstrap); err != nil {
		// a lone node still serves its local book
		logger.Warnw("bootstrap incomplete, running standalone", "err", err)
	}
	bookStore.SetBootstrapped(true)

	if err := mgr.Start(); err != nil {
		return err
	}

	if cfg.Offer.PublishStatistics {
		sink := &storeSink{ds: r.MetaStore()}
		pub := offerbook.NewStatsPublisher(book, sink, time.Minute)
		go pub.Run(ctx)
	}

	logger.Infow("mercato daemon up", "peer", h.ID(), "network", cctx.String("network"))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Infow("shutting down", "signal", sig.String())

	mgr.Shutdown()
	return nil
}

// buildFeed picks the polling feed when a provider is configured and a
// static empty feed otherwise. With the static feed, market-based offers
// report their price as unavailable.
func buildFeed(cfg *config.Config) (types.PriceFeed, func(context.Context)) {
	if cfg.Price.ProviderURL == "" {
		logger.Warnw("no price provider configured, market-based offers will not resolve")
		return pricefeed.NewStatic(), nil
	}
	svc := pricefeed.New(cfg.Price.ProviderURL, time.Duration(cfg.Price.IntervalSeconds)*time.Second)
	return svc, svc.Run
}

// storeSink persists the latest offer statistics snapshot in the meta store.
type storeSink struct {
	ds store.KVStore
}

func (s *storeSink) PublishOfferStats(data []byte) error {
	return s.ds.Put(store.NewKey("offerstats", "latest"), data)
}
