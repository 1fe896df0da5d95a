package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SynthLedger/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
engine: "0x00000000000000000000000000000000000e0001"
unit:
  symbol: sUSD
  address: "0x00000000000000000000000000000000000d0001"
collateral:
  - symbol: WETH
    address: "0x00000000000000000000000000000000000000e1"
    feed: ETH-USD
    genesis:
      "0x000000000000000000000000000000000000a11c": "2.5"
  - symbol: WBTC
    address: "0x00000000000000000000000000000000000000b1"
    feed: BTC-USD
`

var alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, "configs/registry.yaml", cfg.RegistryPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SYNTH_PERSIST_BATCH_SIZE", "7")
	t.Setenv("SYNTH_SNAPSHOT_TICK", "3s")
	t.Setenv("SYNTH_GRPC_ADDR", ":7000")
	t.Setenv("SYNTH_PROJECTION_CHAN_SIZE", "not-a-number")

	cfg := config.Load()
	assert.Equal(t, 7, cfg.PersistBatchSize)
	assert.Equal(t, 3*time.Second, cfg.SnapshotTick)
	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, 2048, cfg.ProjectionChanSize)
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	t.Setenv("SYNTH_SNAPSHOT_INTERVAL", "0")
	assert.Error(t, config.Load().Validate())
}

func TestParseRegistry(t *testing.T) {
	r, err := config.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)

	reg, err := r.CollateralRegistry()
	require.NoError(t, err)
	assets := reg.Assets()
	require.Len(t, assets, 2)
	assert.Equal(t, "WETH", assets[0].Symbol)
	assert.Equal(t, "BTC-USD", assets[1].FeedID)

	bank, err := r.Bank()
	require.NoError(t, err)
	weth, ok := bank.Collateral(common.HexToAddress("0x00000000000000000000000000000000000000e1"))
	require.True(t, ok)
	assert.Equal(t, "2500000000000000000", weth.BalanceOf(alice).Dec())
	assert.Equal(t, "sUSD", bank.Unit().Symbol())
	assert.Equal(t, r.UnitAddress(), bank.UnitAddress())
}

func TestParseRegistry_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral: []
`,
		"zero address": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral:
  - {symbol: WETH, address: "0x0000000000000000000000000000000000000000", feed: ETH-USD}
`,
		"duplicate asset": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral:
  - {symbol: WETH, address: "0x00000000000000000000000000000000000000e1", feed: ETH-USD}
  - {symbol: WETH2, address: "0x00000000000000000000000000000000000000e1", feed: ETH2-USD}
`,
		"collides with unit": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral:
  - {symbol: WETH, address: "0x00000000000000000000000000000000000d0001", feed: ETH-USD}
`,
		"missing feed": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral:
  - {symbol: WETH, address: "0x00000000000000000000000000000000000000e1"}
`,
		"bad genesis": `
engine: "0x00000000000000000000000000000000000e0001"
unit: {symbol: sUSD, address: "0x00000000000000000000000000000000000d0001"}
collateral:
  - symbol: WETH
    address: "0x00000000000000000000000000000000000000e1"
    feed: ETH-USD
    genesis: {"0x000000000000000000000000000000000000a11c": "lots"}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseRegistry([]byte(doc))
			assert.ErrorIs(t, err, config.ErrRegistryInvalid)
		})
	}
}

func TestLoadRegistry_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o600))

	r, err := config.LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, r.Collateral, 2)

	_, err = config.LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
