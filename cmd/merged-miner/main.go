package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/miner"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client/zmq"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/randomx"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"github.com/jessevdk/go-flags"
)

func newOracle(cfg *configFlags) (miner.HashOracle, func(), error) {
	switch cfg.Oracle {
	case oracleKeccak:
		return miner.NewKeccakScratchpadOracle(cfg.KeccakScratchpad), func() {}, nil
	default:
		var randomxFlags []randomx.Flag
		if cfg.RandomXFullMemory {
			randomxFlags = append(randomxFlags, randomx.FlagFullMemory)
		}
		if cfg.RandomXLargePages {
			randomxFlags = append(randomxFlags, randomx.FlagLargePages)
		}
		oracle, err := randomx.NewOracle(randomx.DefaultCachedStates, randomxFlags...)
		if err != nil {
			return nil, nil, err
		}
		return oracle, oracle.Close, nil
	}
}

// tipListeners A new main chain tip and new miner data both make the current templates stale
func tipListeners(name string, notify func()) zmq.Listeners {
	return zmq.Listeners{
		zmq.TopicMinimalChainMain: zmq.DecoderMinimalChainMain(func(chainMain *zmq.MinimalChainMain) {
			utils.Debugf("ZMQ", "%s chain tip at height %d", name, chainMain.FirstHeight+uint64(max(len(chainMain.Ids), 1))-1)
			notify()
		}),
		zmq.TopicFullMinerData: zmq.DecoderFullMinerData(func(minerData *zmq.FullMinerData) {
			utils.Debugf("ZMQ", "%s miner data at height %d, difficulty %s", name, minerData.Height, minerData.Difficulty)
			notify()
		}),
	}
}

// watchTip Refreshes templates whenever the daemon publishes a new main chain tip or miner data. Reconnects on failure.
func watchTip(ctx context.Context, name, endpoint string, m *miner.MergedMiner) {
	for ctx.Err() == nil {
		c := zmq.NewClient(endpoint)
		err := c.Listen(ctx, tipListeners(name, m.NotifyTip))
		_ = c.Close()

		if ctx.Err() != nil {
			return
		}
		utils.Errorf("ZMQ", "%s listener on %s: %s", name, endpoint, err)
		utils.Noticef("ZMQ", "reconnecting %s listener in 5s", name)

		select {
		case <-ctx.Done():
		case <-time.After(time.Second * 5):
		}
	}
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error parsing configuration: %s\n", err)
		os.Exit(1)
	}

	if cfg.Debug {
		utils.GlobalLogLevel |= utils.LogLevelNotice | utils.LogLevelDebug
	}

	if cfg.LogFile != "" {
		if err = utils.SetLogFile(cfg.LogFile); err != nil {
			utils.Fatalf("could not open log file %s: %s", cfg.LogFile, err)
		}
		defer utils.CloseLogFile()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	oracle, closeOracle, err := newOracle(cfg)
	if err != nil {
		utils.Fatalf("could not create %s oracle: %s", cfg.Oracle, err)
	}
	defer closeOracle()

	primary, err := client.NewClient(cfg.PrimaryRPC)
	if err != nil {
		utils.Fatalf("primary rpc: %s", err)
	}

	var auxiliary miner.ChainClient
	if cfg.AuxiliaryRPC != "" {
		auxiliaryClient, err := client.NewClient(cfg.AuxiliaryRPC)
		if err != nil {
			utils.Fatalf("auxiliary rpc: %s", err)
		}
		auxiliary = auxiliaryClient
		utils.Logf("Miner", "Merge mining %s with %s", cfg.PrimaryRPC, cfg.AuxiliaryRPC)
	} else {
		utils.Logf("Miner", "Mining %s", cfg.PrimaryRPC)
	}

	m := miner.NewMergedMiner(oracle, cfg.minerConfig())
	c := newController(ctx, m, cfg.mineParams(primary, auxiliary))

	if cfg.PrimaryZMQ != "" {
		go watchTip(ctx, "primary", cfg.PrimaryZMQ, m)
	}
	if cfg.AuxiliaryZMQ != "" {
		go watchTip(ctx, "auxiliary", cfg.AuxiliaryZMQ, m)
	}

	var server *http.Server
	if cfg.APIBind != "" {
		server = newServer(cfg.APIBind, newRouter(c))
		go func() {
			utils.Logf("API", "Listening on %s", cfg.APIBind)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.Errorf("API", "server: %s", err)
				cancel()
			}
		}()
	}

	if cfg.AutoStart || server == nil {
		c.start()
	}

	if server == nil {
		// without a control surface the process lives as long as the miner
		select {
		case <-ctx.Done():
		case <-c.wait():
		}
	} else {
		<-ctx.Done()
	}

	utils.Logf("Miner", "Shutting down")
	c.stop()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*5)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
