package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds the fee policy and custody identity of the exchange.
// FeeAccount and FeePercent are fixed for the lifetime of a data directory.
type Exchange struct {
	Address    common.Address // custody identity used against token ledgers
	FeeAccount common.Address // receives the taker fee on every fill
	FeePercent uint64         // whole percent of amountGet charged to the taker
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	LogLevel    string
	ChainID     int64
	CORSOrigins []string
	// SeedDevnet populates a fresh data directory with fixture tokens,
	// balances and orders so the API has something to show.
	SeedDevnet bool
	// TxFeed runs the signed-transaction generator against the node's own
	// processor. Requires SeedDevnet on first start so traders can be funded.
	TxFeed bool
}

type Gossip struct {
	ListenAddr string // empty disables event gossip
	Bootstrap  []string
}

type Kafka struct {
	Brokers []string // empty disables the Kafka event sink
	Topic   string
}

type Config struct {
	Exchange Exchange
	Node     Node
	Gossip   Gossip
	Kafka    Kafka
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Address:    common.HexToAddress("0x00000000000000000000000000000000000Ec0de"),
			FeeAccount: common.HexToAddress("0x00000000000000000000000000000000000FEE01"),
			FeePercent: 10,
		},
		Node: Node{
			DataDir:     "data/exchange.db",
			APIAddr:     ":8080",
			LogFile:     "data/node.log",
			LogLevel:    "info",
			ChainID:     1337,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Kafka: Kafka{
			Topic: "ledgerdex.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("EXCHANGE_ADDRESS"); common.IsHexAddress(addr) {
		cfg.Exchange.Address = common.HexToAddress(addr)
	}
	if addr := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(addr) {
		cfg.Exchange.FeeAccount = common.HexToAddress(addr)
	}
	if pct := os.Getenv("FEE_PERCENT"); pct != "" {
		if v, err := strconv.ParseUint(pct, 10, 64); err == nil {
			cfg.Exchange.FeePercent = v
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if v, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			cfg.Node.ChainID = v
		}
	}
	if origins := splitList(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.Node.CORSOrigins = origins
	}
	cfg.Node.SeedDevnet = os.Getenv("SEED_DEVNET") == "true"
	cfg.Node.TxFeed = os.Getenv("ENABLE_TXGEN") == "true"

	cfg.Gossip.ListenAddr = getEnv("GOSSIP_LISTEN", cfg.Gossip.ListenAddr)
	cfg.Gossip.Bootstrap = splitList(os.Getenv("GOSSIP_BOOTSTRAP"))

	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses "a, b,c" into a trimmed slice, dropping empty items
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
