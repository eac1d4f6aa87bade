// Command accountantd runs one accountant shard: bookkeeping, margin
// checks and trade admission for the slice of users this shard owns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/klingon-exchange/accountant/internal/accountant"
	"github.com/klingon-exchange/accountant/internal/config"
	"github.com/klingon-exchange/accountant/internal/engineclient"
	"github.com/klingon-exchange/accountant/internal/ledgergateway"
	"github.com/klingon-exchange/accountant/internal/peer"
	"github.com/klingon-exchange/accountant/internal/rpc"
	"github.com/klingon-exchange/accountant/internal/store"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the shard's config.yaml")
	envPath := flag.String("env", ".env", "path to an optional .env file of secrets")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		logging.Warn("no .env file loaded", "path", *envPath, "error", err)
	}

	if err := run(*configPath); err != nil {
		logging.Fatal("accountantd exited", "error", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: cfg.Logging.TimeFormat})
	logging.SetDefault(log)
	log = log.Component(fmt.Sprintf("shard-%d", cfg.ShardNumber))

	registry := config.NewRegistry(cfg)

	db, err := store.New(&store.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ledger := ledgergateway.New(ledgergateway.Config{URL: cfg.RPC.LedgerURL})
	engines := engineclient.NewRegistry(cfg.RPC.EngineURLs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := peer.NewNode(ctx, peer.Config{
		ShardNumber: cfg.ShardNumber,
		NumShards:   cfg.NumShards,
		KeyFile:     filepath.Join(cfg.Storage.DataDir, "peer_identity.key"),
		Network:     cfg.Network,
	})
	if err != nil {
		return fmt.Errorf("start peer node: %w", err)
	}
	defer node.Close()

	srv := rpc.New(rpc.Config{
		ShardNumber:  cfg.ShardNumber,
		NumShards:    cfg.NumShards,
		TrustedToken: os.Getenv("ACCOUNTANT_TRUSTED_TOKEN"),
	})

	acc := accountant.New(accountant.Config{
		Store:     db,
		Registry:  registry,
		Ledger:    ledger,
		Engines:   engines,
		Notifier:  srv,
		Alerter:   accountant.NewLogAlerter(),
		Mailer:    accountant.NewTemplateMailer(),
		ShardNum:  cfg.ShardNumber,
		NumShards: cfg.NumShards,
		Debug:     cfg.Debug,
		Trial:     cfg.TrialPeriod,
	})
	srv.SetAccountant(acc)

	accPeer := peer.New(node, acc, db, db, cfg.NumShards)
	acc.SetPeer(accPeer)

	retryWorker := peer.NewRetryWorker(accPeer, peer.DefaultRetryWorkerConfig())
	retryWorker.Start()
	defer retryWorker.Stop()

	if cfg.Network.EnablePubSub {
		tradeFeed, err := peer.NewTradeFeed(node)
		if err != nil {
			log.Error("trade feed disabled", "error", err)
		} else {
			tradeFeed.Start(srv.BroadcastTrade)
			srv.SetTradeFeed(tradeFeed)
			defer tradeFeed.Stop()
		}

		clearingFeed, err := peer.NewClearingFeed(node)
		if err != nil {
			log.Error("clearing feed disabled", "error", err)
		} else {
			clearingFeed.Start(acc.ReceiveClearingState)
			acc.SetClearingFeed(clearingFeed)
			defer clearingFeed.Stop()
		}
	}

	log.Info("running startup repair sweep")
	if err := acc.RepairAllUserPositions(ctx); err != nil {
		log.Error("startup repair sweep failed", "error", err)
	}

	acc.StartScheduler()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		acc.StopScheduler(shutdownCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
