// Package config loads the accountant shard's static configuration: the
// network/storage/logging envelope read from YAML, plus the Contract,
// FeeGroup and PermissionGroup catalog that drives margin and fee
// computation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContractType determines how the margin engine and the trade processor
// treat a contract.
type ContractType string

const (
	ContractCash       ContractType = "cash"
	ContractCashPair   ContractType = "cash_pair"
	ContractPrediction ContractType = "prediction"
	ContractFutures    ContractType = "futures"
)

// Contract is the immutable-per-lifetime descriptor of a tradable ticker.
type Contract struct {
	Ticker                    string       `yaml:"ticker"`
	ContractType              ContractType `yaml:"contract_type"`
	TickSize                  int64        `yaml:"tick_size"`
	LotSize                   int64        `yaml:"lot_size"`
	Denominator               int64        `yaml:"denominator"`
	DenominatedContractTicker string       `yaml:"denominated_contract_ticker"`
	PayoutContractTicker      string       `yaml:"payout_contract_ticker"`
	Decimals                  uint8        `yaml:"decimals"`
	Active                    bool         `yaml:"active"`
	ExpirationUnix            *int64       `yaml:"expiration,omitempty"`
	DepositLimit              *int64       `yaml:"deposit_limit,omitempty"`
	WithdrawFee               int64        `yaml:"withdraw_fee"`
}

// Expired reports whether the contract has passed its expiration time, as
// of the given unix timestamp. A contract with no expiration never expires.
func (c Contract) Expired(nowUnix int64) bool {
	return c.ExpirationUnix != nil && *c.ExpirationUnix < nowUnix
}

// FeeGroup names the vendor-share split applied to a fee of any ticker.
// VendorShares must sum to at most 1; the remainder after flooring each
// vendor's cut is credited to the "feeremainder" account.
type FeeGroup struct {
	ID            string             `yaml:"id"`
	VendorShares  map[string]float64 `yaml:"vendor_shares"`
	TradeFeeBps   int64              `yaml:"trade_fee_bps"`
	DepositFeeBps int64              `yaml:"deposit_fee_bps"`
}

// PermissionGroup is the default permission set assigned to new users and
// referenced by ChangePermissionGroup.
type PermissionGroup struct {
	ID       string `yaml:"id"`
	Trade    bool   `yaml:"trade"`
	Withdraw bool   `yaml:"withdraw"`
	Deposit  bool   `yaml:"deposit"`
}

// StorageConfig configures the shard's SQLite-backed position store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	TimeFormat string `yaml:"time_format"`
}

// NetworkConfig configures the libp2p peer transport used for remote_post.
type NetworkConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	EnableMDNS     bool     `yaml:"enable_mdns"`
	EnableDHT      bool     `yaml:"enable_dht"`
	DHTPrefix      string   `yaml:"dht_prefix"`
	EnablePubSub   bool     `yaml:"enable_pubsub"`
}

// RPCConfig configures outbound calls to the ledger and per-ticker engines.
type RPCConfig struct {
	LedgerURL    string            `yaml:"ledger_url"`
	EngineURLs   map[string]string `yaml:"engine_urls"`
	WebserverURL string            `yaml:"webserver_url"`
	CashierURL   string            `yaml:"cashier_url"`
}

// ShardConfig is the top-level configuration for one accountant shard
// process, loaded from the path given by accountantd's -config flag
// (default ./config.yaml).
type ShardConfig struct {
	ShardNumber int    `yaml:"shard_number"`
	NumShards   int    `yaml:"num_shards"`
	Debug       bool   `yaml:"debug"`
	TrialPeriod bool   `yaml:"trial_period"`
	ListenAddr  string `yaml:"listen_addr"`

	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Network NetworkConfig `yaml:"network"`
	RPC     RPCConfig     `yaml:"rpc"`

	Contracts        []Contract        `yaml:"contracts"`
	FeeGroups        []FeeGroup        `yaml:"fee_groups"`
	PermissionGroups []PermissionGroup `yaml:"permission_groups"`
}

// Load reads and parses a shard config file.
func Load(path string) (*ShardConfig, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg ShardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.NumShards <= 0 {
		cfg.NumShards = 1
	}

	return &cfg, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
