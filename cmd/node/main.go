package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/params"
	"github.com/uhyunpark/ledgerdex/pkg/api"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/eventsink"
	"github.com/uhyunpark/ledgerdex/pkg/metrics"
	"github.com/uhyunpark/ledgerdex/pkg/p2p"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
	"github.com/uhyunpark/ledgerdex/pkg/token"
	"github.com/uhyunpark/ledgerdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	db, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	// ---- Tokens ----
	// Devnet fixtures are always registered; their state is restored from
	// the store after the first start.
	deployer := crypto.DeriveKey("ledgerdex/devnet/deployer").Address()
	reg := token.NewRegistry(db)
	for _, tok := range token.Deploy(deployer, token.DevnetFixtures) {
		if err := reg.Register(tok); err != nil {
			return err
		}
		sugar.Infow("token_registered", "symbol", tok.Symbol(), "address", tok.Address().Hex())
	}

	// ---- Exchange ----
	m := metrics.New()
	ex, err := dex.New(dex.Config{
		Address:    cfg.Exchange.Address,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
	}, reg, db, dex.WithLogger(sugar), dex.WithRecorder(m))
	if err != nil {
		return err
	}
	defer ex.Subscribe(m.ObserveEvent)()

	verifier := transaction.NewVerifier(crypto.DefaultDomain(cfg.Node.ChainID, ex.Address()))
	txs := dex.NewTxProcessor(ex, verifier, transaction.NewNonceTracker(db), sugar)

	base, _ := reg.BySymbol("DAPP")
	quote, _ := reg.BySymbol("mDAI")

	fresh := ex.OrderCount() == 0
	if cfg.Node.SeedDevnet && fresh {
		seedCfg := dex.DefaultSeedConfig(deployer,
			crypto.DeriveKey("ledgerdex/devnet/maker").Address(),
			crypto.DeriveKey("ledgerdex/devnet/taker").Address(),
			base, quote)
		if _, err := dex.Seed(ex, seedCfg); err != nil {
			return err
		}
	}

	if err := ex.CheckCustody(); err != nil {
		return err
	}
	sugar.Infow("custody_checked", "state_hash", ex.StateHash().Hex(), "last_event", ex.LastEventSeq())

	// ---- Transaction Feeder (optional) ----
	if cfg.Node.TxFeed {
		feedCfg := dex.DefaultFeederConfig()
		gen := dex.NewSignedTxGenerator(ex, verifier.Signer(), base, quote, feedCfg.NumTraders, feedCfg.Seed)
		if err := gen.SyncNonces(txs); err != nil {
			return err
		}
		if cfg.Node.SeedDevnet && fresh {
			if err := gen.FundTraders(deployer, token.Ether("10000")); err != nil {
				return err
			}
			deposits, err := gen.Deposits(token.Ether("5000"))
			if err != nil {
				return err
			}
			for _, raw := range deposits {
				txs.Submit(raw)
			}
			sugar.Infow("txfeeder_funded", "deposits", txs.Flush())
		}
		defer dex.StartTxFeeder(ctx, txs, gen, feedCfg)()
	} else {
		sugar.Info("txgen_disabled")
	}

	// ---- Kafka event sink (optional) ----
	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := eventsink.DefaultKafkaConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sink := eventsink.NewKafkaSink(kcfg, eventsink.NewKafkaWriter(kcfg), m, sugar)
		sink.Start(ctx)
		defer sink.Close()
		defer ex.Subscribe(sink.Handle)()
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- Event gossip (optional) ----
	if cfg.Gossip.ListenAddr != "" {
		g, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddr: cfg.Gossip.ListenAddr,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Exchange:   ex.Address(),
			StateHash:  ex.StateHash,
			Drops:      m,
			Logger:     sugar,
		})
		if err != nil {
			return err
		}
		defer g.Close()
		defer ex.Subscribe(g.Handle)()
		g.OnEvent(func(re p2p.RemoteEvent) {
			sugar.Debugw("gossip_event_received",
				"from", re.From.String(),
				"seq", re.Event.Seq,
				"type", re.Event.Type,
				"state_hash", re.StateHash.Hex())
		})
		sugar.Infow("gossip_enabled", "addrs", g.Addrs())
	}

	// ---- API Server ----
	srv := api.NewServer(ex, reg, txs, m, cfg.Node.CORSOrigins, sugar)
	defer srv.Close()

	sugar.Infow("node_starting",
		"exchange", ex.Address().Hex(),
		"fee_account", ex.FeeAccount().Hex(),
		"fee_percent", ex.FeePercent(),
		"orders", ex.OrderCount(),
		"api_addr", cfg.Node.APIAddr)

	if err := srv.Start(ctx, cfg.Node.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	sugar.Info("node_stopped")
	return nil
}
