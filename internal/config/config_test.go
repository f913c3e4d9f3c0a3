package config_test

import (
	"testing"
	"time"

	"github.com/hero-dungeon/dungeond/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	datadir := t.TempDir()
	t.Setenv("DUNGEON_DATADIR", datadir)
	t.Setenv("DUNGEON_PRICE_FEED_IDS", "0x01, 0x02,,")
	t.Setenv("DUNGEON_OUTCOME_TIMEOUT", "90s")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, datadir, cfg.Datadir)
	require.Equal(t, uint32(config.DefaultPort), cfg.Port)
	require.Equal(t, "badger", cfg.DbType)
	require.Equal(t, "gocron", cfg.SchedulerType)
	require.Equal(t, "key", cfg.SignerType)
	require.Equal(t, "https://hermes.pyth.network", cfg.OracleUrl)
	require.Equal(t, "DungeonEnter", cfg.EnteredEvent)
	require.Equal(t, "DungeonResult", cfg.ResolvedEvent)
	require.Equal(t, []string{"0x01", "0x02"}, cfg.PriceFeedIds)
	require.Equal(t, 90*time.Second, cfg.OutcomeTimeout)
	require.Equal(t, uint64(1), cfg.Confirmations)
	require.NotContains(t, cfg.String(), "PrivateKey")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			DbType:          "badger",
			SchedulerType:   "gocron",
			SignerType:      "key",
			RpcUrl:          "http://127.0.0.1:8545",
			ContractAddress: "0x01b4b5227A1234A32b23bdBCF63C354f1253C963",
			OracleUrl:       "https://hermes.pyth.network",
			Confirmations:   1,
			PriceFeedIds: []string{
				"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
			},
		}
	}

	fixtures := []struct {
		name        string
		edit        func(*config.Config)
		expectedErr string
	}{
		{
			name:        "db type",
			edit:        func(c *config.Config) { c.DbType = "postgres" },
			expectedErr: "db type not supported",
		},
		{
			name:        "scheduler type",
			edit:        func(c *config.Config) { c.SchedulerType = "block" },
			expectedErr: "scheduler type not supported",
		},
		{
			name:        "signer type",
			edit:        func(c *config.Config) { c.SignerType = "ledger" },
			expectedErr: "signer type not supported",
		},
		{
			name:        "rpc url",
			edit:        func(c *config.Config) { c.RpcUrl = "" },
			expectedErr: "missing rpc url",
		},
		{
			name:        "contract address",
			edit:        func(c *config.Config) { c.ContractAddress = "0x1234" },
			expectedErr: "invalid contract address",
		},
		{
			name:        "outcome timeout",
			edit:        func(c *config.Config) { c.OutcomeTimeout = -time.Second },
			expectedErr: "invalid outcome timeout",
		},
		{
			name:        "feed ids",
			edit:        func(c *config.Config) { c.PriceFeedIds = nil },
			expectedErr: "invalid price feed ids",
		},
		{
			name:        "oracle url",
			edit:        func(c *config.Config) { c.OracleUrl = "ftp://hermes.pyth.network" },
			expectedErr: "invalid oracle url",
		},
		{
			name:        "private key",
			edit:        func(c *config.Config) { c.PrivateKey = "" },
			expectedErr: "missing private key",
		},
		{
			name: "keystore",
			edit: func(c *config.Config) {
				c.SignerType = "keystore"
			},
			expectedErr: "missing keystore dir",
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			cfg := valid()
			f.edit(cfg)
			err := cfg.Validate()
			require.ErrorContains(t, err, f.expectedErr)
		})
	}

	t.Run("app service before validation", func(t *testing.T) {
		_, err := valid().AppService()
		require.ErrorContains(t, err, "config not validated")
	})
}
