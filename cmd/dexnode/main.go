// Command dexnode runs a single coordinator node bridging two ledgers,
// mirroring the bootstrap sequence of the teacher's server/cmd/dcrdex:
// load config, construct the long-lived collaborators, wire them together,
// and run until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v2"
	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/book"
	"github.com/dexbridge/node/internal/bus"
	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/config"
	"github.com/dexbridge/node/internal/dexlog"
	"github.com/dexbridge/node/internal/dividend"
	"github.com/dexbridge/node/internal/intent"
	"github.com/dexbridge/node/internal/interleave"
	"github.com/dexbridge/node/internal/pipeline"
	"github.com/dexbridge/node/internal/query"
	"github.com/dexbridge/node/internal/registry"
	"github.com/dexbridge/node/internal/sched"
	"github.com/dexbridge/node/internal/sigcoord"
	"github.com/dexbridge/node/internal/snapshot"
)

var loggers = &dexlog.LoggerMaker{
	Backend:      slog.NewBackend(os.Stdout),
	DefaultLevel: slog.LevelInfo,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dexnode:", err)
		os.Exit(1)
	}
}

func run() error {
	appDataDir, err := defaultAppDataDir()
	if err != nil {
		return err
	}
	cli, err := config.LoadCLI(os.Args[1:], appDataDir)
	if err != nil {
		return err
	}
	if cli.Market == nil {
		// --version was given; LoadCLI returned before loading the market
		// config.
		return nil
	}

	if lvl, ok := slog.LevelFromString(cli.DebugLevel); ok {
		loggers.DefaultLevel = lvl
	}
	log := loggers.NewLogger("NODE")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := newNode(log, cli)
	if err != nil {
		return err
	}
	return n.run(ctx)
}

func defaultAppDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + "/.dexnode", nil
}

// node holds every long-lived collaborator the running coordinator wires
// together, matching the teacher's dexDataStore-style bootstrap object.
type node struct {
	log    slog.Logger
	market *config.MarketConfig

	sched       *sched.Scheduler
	reg         *registry.Registry
	eng         *book.Engine
	wsHub       *bus.WSHub
	coord       *sigcoord.Coordinator
	snapStore   *snapshot.Store
	resumer     *snapshot.Resumer
	divQueue    *dividend.Queue
	forkWatcher *interleave.ForkWatcher
	il          *interleave.Interleaver
	queryAPI    *query.API

	adapters map[chain.ID]chain.Adapter

	httpServer *http.Server
}

func newNode(log slog.Logger, cli *config.CLIResult) (*node, error) {
	m := cli.Market
	base, quote := chain.ID(m.BaseChain), chain.ID(m.QuoteChain)

	n := &node{
		log:      log,
		market:   m,
		sched:    sched.New(context.Background()),
		reg:      registry.New(),
		eng:      book.New(loggers.NewLogger("BOOK")),
		wsHub:    bus.NewWSHub(loggers),
		adapters: make(map[chain.ID]chain.Adapter),
	}

	// Concrete per-chain Ledger Adapters are supplied by deployment-specific
	// glue outside this module (SPEC_FULL.md internal/chain); a bare node
	// binary has nothing to observe until adapters are registered here.
	n.wireAdapters()

	ledgers := chain.NewAdapterLedgers(n.adapters)
	wallets := nodeWallets{adapters: n.adapters, walletAddress: walletAddresses(m)}

	signer, err := loadSigner(m.KeyFile, cli.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("dexnode: load signing key: %w", err)
	}

	n.coord = sigcoord.New(loggers.NewLogger("SIGCOORD"), sigcoord.Config{
		SignatureBroadcastDelay: m.SignatureBroadcastDelay,
		TransactionSubmitDelay:  m.TransactionSubmitDelay,
		MemberAddress:           m.MemberAddress,
		PublicKeyHex:            m.PublicKeyHex,
		BaseAddress:             m.Chains[m.BaseChain].WalletAddress,
		QuoteAddress:            m.Chains[m.QuoteChain].WalletAddress,
	}, n.reg, n.wsHub, signer, ledgers, wallets, n.sched)

	n.snapStore = snapshot.New(snapshot.Config{
		Dir:      m.SnapshotDir,
		MaxCount: m.SnapshotBackupMaxCount,
	})
	resumer, err := snapshot.NewResumer(loggers.NewLogger("SNAPSHOT"), n.snapStore, n.eng)
	if err != nil {
		return nil, fmt.Errorf("dexnode: resume snapshot: %w", err)
	}
	n.resumer = resumer

	n.divQueue = dividend.New(loggers.NewLogger("DIVIDEND"), dividendConfig(m), n.coord, n.payDividend)

	aliases := map[chain.ID]string{base: string(base), quote: string(quote)}
	n.forkWatcher = interleave.NewForkWatcher(n.wsHub, aliases)

	pl := pipeline.New(loggers.NewLogger("PIPELINE"), pipelineConfig(m), n.adapters, n.eng, n.reg, n.coord, n.resumer, n.divQueue)

	n.il = interleave.New(loggers.NewLogger("INTERLEAVE"), interleave.Config{
		BaseChain:             base,
		QuoteChain:            quote,
		RequiredConfirmations: requiredConfirmations(m),
		ReadMaxBlocks:         readMaxBlocks(m),
		ReadBlocksInterval:    m.ReadBlocksInterval,
	}, n.adapters[base], n.adapters[quote], pl, n.resumer, n.reg, n.forkWatcher)

	n.queryAPI = query.New(query.Config{
		DefaultPageLimit: m.APIDefaultPageLimit,
		MaxPageLimit:     m.APIMaxPageLimit,
		MaxFilterFields:  m.APIMaxFilterFields,
	}, n.eng, n.reg)

	mux := http.NewServeMux()
	mux.Handle("/ws", n.wsHub)
	mux.HandleFunc("/api/market", n.handleMarket)
	n.httpServer = &http.Server{Addr: ":7766", Handler: mux}

	return n, nil
}

func (n *node) run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		n.log.Infof("listening on %s", n.httpServer.Addr)
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Errorf("http server: %v", err)
		}
	}()

	go n.divQueue.Run(runCtx)
	go n.il.Run(runCtx)

	select {
	case sig := <-sigCh:
		n.log.Infof("received %v, shutting down", sig)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = n.httpServer.Shutdown(shutdownCtx)
	n.sched.Shutdown()
	return nil
}

func (n *node) handleMarket(w http.ResponseWriter, r *http.Request) {
	summary := n.queryAPI.GetMarket()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"bidCount":%d,"askCount":%d}`, summary.BidCount, summary.AskCount)
}

func (n *node) wireAdapters() {
	// Left empty: populated by a deployment's build-time wiring of real
	// Ledger Adapters for its two configured chains.
}

func (n *node) payDividend(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error {
	_, err := n.coord.AuthorOutgoing(id, targetChain, out, memo)
	return err
}

// nodeSigner holds this node's decrypted multisig signing key in memory
// for the lifetime of the process.
type nodeSigner struct {
	priv *secp256k1.PrivateKey
}

func (s nodeSigner) Sign(hash []byte) (*secp256k1.Signature, error) {
	return s.priv.Sign(hash)
}

// loadSigner reads the encrypted key file at path and decrypts it with
// passphrase, following the same Encrypt/Decrypt framing config.Crypter
// produces (spec.md §6 KeyMaterial).
func loadSigner(path, passphrase string) (nodeSigner, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nodeSigner{}, err
	}
	plain, err := config.Decrypt(passphrase, blob)
	if err != nil {
		return nodeSigner{}, err
	}
	defer zero(plain)
	priv := secp256k1.PrivKeyFromBytes(plain)
	return nodeSigner{priv: priv}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

type nodeWallets struct {
	adapters      map[chain.ID]chain.Adapter
	walletAddress map[chain.ID]string
}

func (w nodeWallets) WalletInfo(c chain.ID) *chain.WalletInfo {
	a, ok := w.adapters[c]
	if !ok {
		return nil
	}
	info, err := a.WalletInfo(w.walletAddress[c])
	if err != nil {
		return nil
	}
	return info
}

func pipelineConfig(m *config.MarketConfig) pipeline.Config {
	base, quote := chain.ID(m.BaseChain), chain.ID(m.QuoteChain)
	cfg := pipeline.Config{
		BaseChain:                 base,
		QuoteChain:                quote,
		PassiveMode:               m.PassiveMode,
		RebroadcastAfterHeight:    map[chain.ID]chain.Height{},
		RebroadcastUntilHeight:    map[chain.ID]chain.Height{},
		DividendHeightOffset:      map[chain.ID]chain.Height{},
		DividendStartHeight:       map[chain.ID]chain.Height{},
		DividendHeightInterval:    map[chain.ID]chain.Height{},
		OrderHeightExpiry:         map[chain.ID]chain.Height{},
		ExchangeFeeBase:           map[chain.ID]uint64{},
		ExchangeFeeRate:           map[chain.ID]float64{},
		OrderBookSnapshotFinality: chain.Height(m.OrderBookSnapshotFinality),
		DexDisabledFromHeight:     map[chain.ID]chain.Height{},
		DexMovedToAddress:         map[chain.ID]string{},
		WalletAddress:             map[chain.ID]string{},
		IntentConfig: intent.Config{
			BaseChain:       base,
			SupportedChains: map[chain.ID]struct{}{base: {}, quote: {}},
			ExchangeFeeBase: map[chain.ID]uint64{},
			DisabledFrom:    map[chain.ID]chain.Height{},
			MovedToAddress:  map[chain.ID]string{},
		},
	}
	for name, cc := range m.Chains {
		c := chain.ID(name)
		cfg.RebroadcastAfterHeight[c] = chain.Height(cc.RebroadcastAfterHeight)
		cfg.RebroadcastUntilHeight[c] = chain.Height(cc.RebroadcastUntilHeight)
		cfg.DividendHeightOffset[c] = chain.Height(cc.DividendHeightOffset)
		cfg.DividendStartHeight[c] = chain.Height(cc.DividendStartHeight)
		cfg.DividendHeightInterval[c] = chain.Height(cc.DividendHeightInterval)
		cfg.OrderHeightExpiry[c] = chain.Height(cc.OrderHeightExpiry)
		cfg.ExchangeFeeBase[c] = cc.ExchangeFeeBase
		cfg.ExchangeFeeRate[c] = cc.ExchangeFeeRate
		cfg.WalletAddress[c] = cc.WalletAddress
		cfg.IntentConfig.ExchangeFeeBase[c] = cc.ExchangeFeeBase
		if c == base && cc.MinOrderAmount > 0 {
			cfg.IntentConfig.MinOrderAmount = cc.MinOrderAmount
		}
		if cc.DisabledFromHeight > 0 {
			cfg.DexDisabledFromHeight[c] = chain.Height(cc.DisabledFromHeight)
			cfg.IntentConfig.DisabledFrom[c] = chain.Height(cc.DisabledFromHeight)
		}
		if cc.MovedToAddress != "" {
			cfg.DexMovedToAddress[c] = cc.MovedToAddress
			cfg.IntentConfig.MovedToAddress[c] = cc.MovedToAddress
		}
	}
	return cfg
}

func walletAddresses(m *config.MarketConfig) map[chain.ID]string {
	out := make(map[chain.ID]string, len(m.Chains))
	for name, cc := range m.Chains {
		out[chain.ID(name)] = cc.WalletAddress
	}
	return out
}

func dividendConfig(m *config.MarketConfig) dividend.Config {
	cfg := dividend.Config{
		DividendRate:        map[chain.ID]float64{},
		ExchangeFeeRate:     map[chain.ID]float64{},
		MemberCount:         map[chain.ID]int{},
		MemberWalletAddress: map[chain.ID]map[string]string{},
	}
	for name, cc := range m.Chains {
		c := chain.ID(name)
		cfg.DividendRate[c] = cc.DividendRate
		cfg.ExchangeFeeRate[c] = cc.ExchangeFeeRate
		cfg.MemberCount[c] = len(cc.Members)
		addrs := make(map[string]string, len(cc.Members))
		for pubkey, addr := range cc.Members {
			addrs[pubkey] = addr
		}
		cfg.MemberWalletAddress[c] = addrs
	}
	return cfg
}

func requiredConfirmations(m *config.MarketConfig) map[chain.ID]uint64 {
	out := make(map[chain.ID]uint64, len(m.Chains))
	for name, cc := range m.Chains {
		out[chain.ID(name)] = cc.RequiredConfirmations
	}
	return out
}

func readMaxBlocks(m *config.MarketConfig) map[chain.ID]int {
	out := make(map[chain.ID]int, len(m.Chains))
	for name, cc := range m.Chains {
		out[chain.ID(name)] = cc.ReadMaxBlocks
	}
	return out
}
