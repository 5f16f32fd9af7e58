// Package config loads a node's operator-facing configuration: CLI flags
// and an INI file via the teacher's own two-pass go-flags parse
// (server/cmd/dcrdex/config.go), plus a YAML market/chain description,
// grounded on the pack's yaml.v3 usage.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFilename = "dexnode.conf"
	defaultLogLevel       = "info"

	defaultSignatureBroadcastDelay = 15 * time.Second
	defaultTransactionSubmitDelay  = 5 * time.Second
	defaultReadBlocksInterval      = 3 * time.Second
	defaultMultisigExpiry          = 24 * time.Hour

	defaultAPIPageLimit    = 100
	defaultAPIMaxPageLimit = 500
	defaultAPIMaxFilters   = 3

	defaultSnapshotBackupMaxCount = 200
)

// ChainConfig is one supported chain's per-node parameters (spec.md §6).
type ChainConfig struct {
	WalletAddress          string  `yaml:"walletAddress"`
	RequiredConfirmations  uint64  `yaml:"requiredConfirmations"`
	ReadMaxBlocks          int     `yaml:"readMaxBlocks"`
	OrderHeightExpiry      uint64  `yaml:"orderHeightExpiry"`
	MinOrderAmount         uint64  `yaml:"minOrderAmount"`
	ExchangeFeeBase        uint64  `yaml:"exchangeFeeBase"`
	ExchangeFeeRate        float64 `yaml:"exchangeFeeRate"`
	DividendRate           float64 `yaml:"dividendRate"`
	DividendHeightOffset   uint64  `yaml:"dividendHeightOffset"`
	DividendStartHeight    uint64  `yaml:"dividendStartHeight"`
	DividendHeightInterval uint64  `yaml:"dividendHeightInterval"`
	DisabledFromHeight     uint64  `yaml:"disabledFromHeight,omitempty"`
	MovedToAddress         string  `yaml:"movedToAddress,omitempty"`
	RebroadcastAfterHeight uint64  `yaml:"rebroadcastAfterHeight"`
	RebroadcastUntilHeight uint64  `yaml:"rebroadcastUntilHeight"`
	// Members maps each multisig co-signer's pubkey (hex) to their payout
	// wallet address on this chain, for dividend distribution.
	Members map[string]string `yaml:"members"`
}

// MarketConfig is the full operator-facing YAML document: two chains, a
// declared base chain, and node-wide behavior toggles.
type MarketConfig struct {
	BaseChain   string                 `yaml:"baseChain"`
	QuoteChain  string                 `yaml:"quoteChain"`
	Chains      map[string]ChainConfig `yaml:"chains"`
	PassiveMode bool                   `yaml:"passiveMode"`

	MemberAddress string `yaml:"memberAddress"`
	PublicKeyHex  string `yaml:"publicKeyHex"`
	KeyFile       string `yaml:"keyFile"`

	MultisigExpiry          time.Duration `yaml:"multisigExpiry"`
	SignatureBroadcastDelay time.Duration `yaml:"signatureBroadcastDelay"`
	TransactionSubmitDelay  time.Duration `yaml:"transactionSubmitDelay"`
	ReadBlocksInterval      time.Duration `yaml:"readBlocksInterval"`

	OrderBookSnapshotFinality uint64 `yaml:"orderBookSnapshotFinality"`
	SnapshotDir               string `yaml:"snapshotDir"`
	SnapshotBackupMaxCount    int    `yaml:"snapshotBackupMaxCount"`

	APIDefaultPageLimit int `yaml:"apiDefaultPageLimit"`
	APIMaxPageLimit     int `yaml:"apiMaxPageLimit"`
	APIMaxFilterFields  int `yaml:"apiMaxFilterFields"`
}

func (m *MarketConfig) applyDefaults() {
	if m.MultisigExpiry == 0 {
		m.MultisigExpiry = defaultMultisigExpiry
	}
	if m.SignatureBroadcastDelay == 0 {
		m.SignatureBroadcastDelay = defaultSignatureBroadcastDelay
	}
	if m.TransactionSubmitDelay == 0 {
		m.TransactionSubmitDelay = defaultTransactionSubmitDelay
	}
	if m.ReadBlocksInterval == 0 {
		m.ReadBlocksInterval = defaultReadBlocksInterval
	}
	if m.OrderBookSnapshotFinality == 0 {
		m.OrderBookSnapshotFinality = 1000
	}
	if m.SnapshotBackupMaxCount == 0 {
		m.SnapshotBackupMaxCount = defaultSnapshotBackupMaxCount
	}
	if m.APIDefaultPageLimit == 0 {
		m.APIDefaultPageLimit = defaultAPIPageLimit
	}
	if m.APIMaxPageLimit == 0 {
		m.APIMaxPageLimit = defaultAPIMaxPageLimit
	}
	if m.APIMaxFilterFields == 0 {
		m.APIMaxFilterFields = defaultAPIMaxFilters
	}
}

func (m *MarketConfig) validate() error {
	if m.BaseChain == "" || m.QuoteChain == "" {
		return fmt.Errorf("config: baseChain and quoteChain are required")
	}
	if m.BaseChain == m.QuoteChain {
		return fmt.Errorf("config: baseChain and quoteChain must differ")
	}
	for _, want := range []string{m.BaseChain, m.QuoteChain} {
		if _, ok := m.Chains[want]; !ok {
			return fmt.Errorf("config: chain %q has no chains[] entry", want)
		}
	}
	if m.PublicKeyHex == "" {
		return fmt.Errorf("config: publicKeyHex is required")
	}
	return nil
}

// LoadMarketConfig reads and validates the YAML market document at path.
func LoadMarketConfig(path string) (*MarketConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var m MarketConfig
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// flagsData is the CLI/INI surface, mirroring the teacher's flagsData
// (server/cmd/dcrdex/config.go): a flat struct of `long`-tagged fields
// parsed twice, once to locate the config file and once with it applied.
type flagsData struct {
	AppDataDir    string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	MarketFile    string `long:"marketfile" description:"Path to the YAML market configuration"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir        string `long:"logdir" description:"Directory to write log files"`
	PassphraseEnv string `long:"passphraseenv" description:"Environment variable holding the wallet key decryption passphrase"`
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// CLIResult is the parsed CLI/INI surface plus the resolved market config.
type CLIResult struct {
	AppDataDir string
	DebugLevel string
	LogDir     string
	Passphrase string
	Market     *MarketConfig
}

// LoadCLI runs the teacher's two-pass parse: a lightweight pre-parse to
// find --appdata/--configfile, then a full parse with the config file's
// INI contents applied as defaults for anything not set on the
// command line (spec.md §6, ambient CLI/INI bootstrap).
func LoadCLI(args []string, appDataDir string) (*CLIResult, error) {
	cfg := flagsData{
		AppDataDir: appDataDir,
		DebugLevel: defaultLogLevel,
	}

	var preCfg flagsData
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
	}
	if preCfg.AppDataDir != "" {
		abs, err := filepath.Abs(preCfg.AppDataDir)
		if err != nil {
			return nil, fmt.Errorf("config: resolve appdata dir: %w", err)
		}
		cfg.AppDataDir = abs
	}

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else if !filepath.IsAbs(configFile) {
		configFile = filepath.Join(cfg.AppDataDir, configFile)
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(configFile); err == nil {
		if err := flags.NewIniParser(parser).ParseFile(configFile); err != nil {
			return nil, fmt.Errorf("config: parse ini %s: %w", configFile, err)
		}
	}
	if _, err := parser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
		return nil, fmt.Errorf("config: parse args: %w", err)
	}

	if cfg.ShowVersion {
		return &CLIResult{AppDataDir: cfg.AppDataDir}, nil
	}

	marketFile := cfg.MarketFile
	if marketFile == "" {
		marketFile = filepath.Join(cfg.AppDataDir, "market.yaml")
	}
	market, err := LoadMarketConfig(marketFile)
	if err != nil {
		return nil, err
	}

	passphrase := ""
	if cfg.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.PassphraseEnv)
	}

	return &CLIResult{
		AppDataDir: cfg.AppDataDir,
		DebugLevel: cfg.DebugLevel,
		LogDir:     cfg.LogDir,
		Passphrase: passphrase,
		Market:     market,
	}, nil
}
