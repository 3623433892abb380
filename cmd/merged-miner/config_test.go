package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/address"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
)

func testWallet() string {
	return address.FromRawAddress(18, types.Hash{0x11}, types.Hash{0x22}).String()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig([]string{"--primary-wallet", testWallet()})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PrimaryRPC != "http://127.0.0.1:18081" || cfg.Oracle != oracleRandomX || cfg.PollInterval != time.Millisecond*100 || cfg.PollCount != 50 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if params := cfg.mineParams(nil, nil); params.Auxiliary != nil {
		t.Fatal("auxiliary chain configured without --auxiliary-rpc")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged-miner.conf")
	contents := strings.Join([]string{
		"[Application Options]",
		"primary-rpc = http://127.0.0.1:28081",
		"primary-wallet = " + testWallet(),
		"auxiliary-rpc = http://127.0.0.1:38081",
		"auxiliary-wallet = " + testWallet(),
		"threads = 2",
		"oracle = keccak",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig([]string{"--config", path, "--threads", "6"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PrimaryRPC != "http://127.0.0.1:28081" || cfg.AuxiliaryRPC != "http://127.0.0.1:38081" || cfg.Oracle != oracleKeccak {
		t.Fatalf("config file values not applied %+v", cfg)
	}
	if cfg.Threads != 6 {
		t.Fatalf("command line must override config file, got %d threads", cfg.Threads)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	for _, e := range []struct {
		name string
		args []string
	}{
		{"missing wallet", nil},
		{"bad wallet", []string{"--primary-wallet", "wallet"}},
		{"auxiliary without wallet", []string{"--primary-wallet", testWallet(), "--auxiliary-rpc", "http://127.0.0.1:38081"}},
		{"auxiliary wallet without rpc", []string{"--primary-wallet", testWallet(), "--auxiliary-wallet", testWallet()}},
		{"poll count", []string{"--primary-wallet", testWallet(), "--poll-count", "0"}},
		{"too many threads", []string{"--primary-wallet", testWallet(), "--threads", "1000000"}},
		{"unknown oracle", []string{"--primary-wallet", testWallet(), "--oracle", "sha256"}},
		{"missing config file", []string{"--primary-wallet", testWallet(), "--config", "/nonexistent/merged-miner.conf"}},
	} {
		t.Run(e.name, func(t *testing.T) {
			if _, err := loadConfig(e.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
