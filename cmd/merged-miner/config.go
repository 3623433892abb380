package main

import (
	"os"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/miner"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/address"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	oracleRandomX = "randomx"
	oracleKeccak  = "keccak"

	defaultPrimaryRPC = "http://127.0.0.1:18081"
	defaultAPIBind    = "127.0.0.1:18090"
)

type configFlags struct {
	ConfigFile string `short:"C" long:"config" description:"Path to an INI configuration file"`

	PrimaryRPC    string `long:"primary-rpc" description:"Primary chain daemon RPC address"`
	PrimaryWallet string `long:"primary-wallet" description:"Wallet address receiving primary chain rewards"`
	PrimaryZMQ    string `long:"primary-zmq" description:"Primary chain daemon ZMQ publisher, for example tcp://127.0.0.1:18083"`

	AuxiliaryRPC    string `long:"auxiliary-rpc" description:"Auxiliary chain daemon RPC address. Leave empty to mine the primary chain alone"`
	AuxiliaryWallet string `long:"auxiliary-wallet" description:"Wallet address receiving auxiliary chain rewards"`
	AuxiliaryZMQ    string `long:"auxiliary-zmq" description:"Auxiliary chain daemon ZMQ publisher"`

	Threads int `short:"t" long:"threads" description:"Mining threads. Zero or negative values are subtracted from the available CPU count"`

	Oracle            string `long:"oracle" description:"Proof of work function" choice:"randomx" choice:"keccak"`
	RandomXFullMemory bool   `long:"randomx-full-memory" description:"Initialize the full RandomX dataset"`
	RandomXLargePages bool   `long:"randomx-large-pages" description:"Allocate RandomX memory with large pages"`
	KeccakScratchpad  int    `long:"keccak-scratchpad" description:"Scratchpad size in bytes of the keccak development oracle"`

	PollInterval time.Duration `long:"poll-interval" description:"Search completion poll interval"`
	PollCount    int           `long:"poll-count" description:"Polls per round before templates are refreshed"`

	APIBind   string `long:"api-bind" description:"Control API listen address. Leave empty to disable"`
	AutoStart bool   `long:"autostart" description:"Start mining immediately instead of waiting for the control API"`

	LogFile string `long:"log-file" description:"Also write logs to this file, rotated by size"`
	Debug   bool   `long:"debug" description:"Enable debug logging"`
}

func defaultConfig() *configFlags {
	config := miner.DefaultConfig()
	return &configFlags{
		PrimaryRPC:       defaultPrimaryRPC,
		Oracle:           oracleRandomX,
		KeccakScratchpad: miner.DefaultKeccakScratchpadSize,
		PollInterval:     config.PollInterval,
		PollCount:        config.PollCount,
		APIBind:          defaultAPIBind,
	}
}

func (c *configFlags) mineParams(primary, auxiliary miner.ChainClient) miner.MineParams {
	params := miner.MineParams{
		Primary: miner.Chain{Client: primary, Wallet: c.PrimaryWallet},
		Threads: c.Threads,
	}
	if auxiliary != nil {
		params.Auxiliary = &miner.Chain{Client: auxiliary, Wallet: c.AuxiliaryWallet}
	}
	return params
}

func (c *configFlags) minerConfig() miner.Config {
	config := miner.DefaultConfig()
	config.PollInterval = c.PollInterval
	config.PollCount = c.PollCount
	return config
}

func (c *configFlags) validate() error {
	if c.PrimaryRPC == "" {
		return errors.New("--primary-rpc is required")
	}
	if c.PrimaryWallet == "" {
		return errors.New("--primary-wallet is required")
	}
	if err := address.Validate(c.PrimaryWallet); err != nil {
		return errors.Wrap(err, "invalid --primary-wallet")
	}

	if c.AuxiliaryRPC != "" {
		if c.AuxiliaryWallet == "" {
			return errors.New("--auxiliary-wallet is required with --auxiliary-rpc")
		}
		if err := address.Validate(c.AuxiliaryWallet); err != nil {
			return errors.Wrap(err, "invalid --auxiliary-wallet")
		}
	} else if c.AuxiliaryWallet != "" || c.AuxiliaryZMQ != "" {
		return errors.New("auxiliary chain options require --auxiliary-rpc")
	}

	if c.Threads > utils.MaxThreads {
		return errors.Errorf("--threads must be at most %d, got %d", utils.MaxThreads, c.Threads)
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("--poll-interval must be positive, got %s", c.PollInterval)
	}
	if c.PollCount <= 0 {
		return errors.Errorf("--poll-count must be positive, got %d", c.PollCount)
	}
	if c.Oracle == oracleKeccak && c.KeccakScratchpad <= 0 {
		return errors.New("--keccak-scratchpad must be positive")
	}
	return nil
}

// loadConfig Command line flags override values from the configuration file
func loadConfig(args []string) (*configFlags, error) {
	preCfg := &configFlags{}
	preParser := flags.NewParser(preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
	}

	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default&^flags.PrintErrors)

	if preCfg.ConfigFile != "" {
		if _, err := os.Stat(preCfg.ConfigFile); err != nil {
			return nil, errors.Wrap(err, "config file")
		}
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", preCfg.ConfigFile)
		}
	}

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
