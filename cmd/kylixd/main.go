// Copyright 2025 Kylix Project
//
// kylixd - Wires the store, coordinator, admission server, and
// transaction queue together and runs until interrupted
//
// The HTTP/JSON API and the peer-to-peer transport are external
// collaborators; this entry point only stands up the core.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anusornc/kylix/pkg/chainserver"
	"github.com/anusornc/kylix/pkg/config"
	"github.com/anusornc/kylix/pkg/dagstore"
	"github.com/anusornc/kylix/pkg/hashsig"
	"github.com/anusornc/kylix/pkg/txqueue"
	"github.com/anusornc/kylix/pkg/validators"
)

func main() {
	configPath := flag.String("config", "config/kylix.yaml", "path to the node's YAML config file")
	nodeID := flag.String("node-id", "", "validator ID for this node (overrides node_id / NODE_ID)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if cfg.NodeID == "" {
		log.Fatal("no node_id configured (set node_id in the config file, NODE_ID in the environment, or pass -node-id)")
	}

	log.Printf("starting kylixd: node_id=%s db_path=%s port=%d", cfg.NodeID, cfg.DBPath, cfg.Port)

	store, err := dagstore.OpenPersistentStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open dag store: %v", err)
	}

	coordinator := validators.NewCoordinator(validators.Config{
		ConfigDir:  cfg.ValidatorsDir,
		WindowSize: cfg.Window.Size,
	})

	km := hashsig.NewKeyManager(cfg.ValidatorsDir + "/" + cfg.NodeID + ".key")
	if err := km.LoadOrGenerate(); err != nil {
		log.Fatalf("load or generate validator key: %v", err)
	}
	if err := coordinator.Seed(cfg.NodeID, km.PublicKey()); err != nil {
		log.Fatalf("seed validator roster: %v", err)
	}

	if existing, err := hashsig.LoadPublicKeys(cfg.ValidatorsDir); err != nil {
		log.Printf("load persisted validator keys: %v", err)
	} else {
		for id, pk := range existing {
			if id == cfg.NodeID {
				continue
			}
			if err := coordinator.AddValidator(id, pk, cfg.NodeID); err != nil {
				log.Printf("restore validator %s: %v", id, err)
			}
		}
	}

	server := chainserver.New(store, coordinator)

	queue := txqueue.New(server, coordinator, txqueue.Config{
		BatchSize:          cfg.Queue.BatchSize,
		ProcessingInterval: cfg.Queue.ProcessingInterval.Value(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	queue.Start(ctx)

	checkpoints := time.NewTicker(time.Minute)
	go func() {
		defer checkpoints.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-checkpoints.C:
				if err := store.Checkpoint(); err != nil {
					log.Printf("checkpoint: %v", err)
				}
			}
		}
	}()

	log.Printf("kylixd running; press ctrl-c to stop")

	<-ctx.Done()
	log.Printf("shutting down")
	queue.Stop()

	stats := queue.Status()
	log.Printf("final queue stats: submitted=%d processed=%d failed=%d", stats.Submitted, stats.Processed, stats.Failed)
}
