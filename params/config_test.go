package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(10), cfg.Exchange.FeePercent)
	assert.NotEqual(t, common.Address{}, cfg.Exchange.Address)
	assert.NotEqual(t, cfg.Exchange.Address, cfg.Exchange.FeeAccount)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Gossip.ListenAddr)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("FEE_ACCOUNT", "0x00000000000000000000000000000000000000f1")
	t.Setenv("DATA_DIR", "/tmp/x.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GOSSIP_BOOTSTRAP", "")
	t.Setenv("SEED_DEVNET", "true")
	t.Setenv("ENABLE_TXGEN", "yes")
	t.Setenv("CHAIN_ID", "not-a-number")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, uint64(3), cfg.Exchange.FeePercent)
	assert.Equal(t, common.HexToAddress("0xf1"), cfg.Exchange.FeeAccount)
	assert.Equal(t, "/tmp/x.db", cfg.Node.DataDir)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Nil(t, cfg.Gossip.Bootstrap)
	assert.True(t, cfg.Node.SeedDevnet)
	assert.False(t, cfg.Node.TxFeed, "only \"true\" enables the feeder")
	assert.Equal(t, int64(1337), cfg.Node.ChainID, "invalid values keep the default")
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_TOPIC=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("KAFKA_TOPIC") })

	cfg := LoadFromEnv(path)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
}
