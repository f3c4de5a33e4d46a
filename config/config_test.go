package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "finagent", cfg.AgentID)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, int64(1<<20), cfg.CacheMaxCost)
	assert.Equal(t, 256, cfg.EmbeddingDims)
	assert.Equal(t, float32(0.5), cfg.MinSimilarity)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 10, cfg.MinHolders)
	assert.Equal(t, 0.7, cfg.MaxRiskScore)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogDevelopment)
	assert.Empty(t, cfg.RPCURL)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FINAGENT_AGENT_ID":        "poolkeeper",
		"FINAGENT_STORE":           "sqlite",
		"FINAGENT_SQLITE_PATH":     "/var/lib/finagent/agent.db",
		"FINAGENT_CALL_TIMEOUT":    "750ms",
		"FINAGENT_RPC_URL":         "wss://gateway.example/rpc",
		"FINAGENT_MAX_RISK_SCORE":  "0.5",
		"FINAGENT_LOG_LEVEL":       "debug",
		"FINAGENT_LOG_DEVELOPMENT": "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "poolkeeper", cfg.AgentID)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/var/lib/finagent/agent.db", cfg.SQLitePath)
	assert.Equal(t, 750*time.Millisecond, cfg.CallTimeout)
	assert.Equal(t, "wss://gateway.example/rpc", cfg.RPCURL)
	assert.Equal(t, 0.5, cfg.MaxRiskScore)
	assert.True(t, cfg.LogDevelopment)
}

func TestLoadFrom_ParseError(t *testing.T) {
	_, err := LoadFrom(map[string]string{"FINAGENT_CALL_TIMEOUT": "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Store = "postgres" }, "FINAGENT_STORE"},
		{"sqlite path", func(c *Config) { c.Store, c.SQLitePath = StoreSQLite, "" }, "FINAGENT_SQLITE_PATH"},
		{"timeout", func(c *Config) { c.CallTimeout = 0 }, "FINAGENT_CALL_TIMEOUT"},
		{"dims", func(c *Config) { c.EmbeddingDims = -1 }, "FINAGENT_EMBEDDING_DIMS"},
		{"similarity", func(c *Config) { c.MinSimilarity = 1.5 }, "FINAGENT_MIN_SIMILARITY"},
		{"risk", func(c *Config) { c.MaxRiskScore = -0.1 }, "FINAGENT_MAX_RISK_SCORE"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "FINAGENT_LOG_LEVEL"},
		{"agent", func(c *Config) { c.AgentID = "" }, "FINAGENT_AGENT_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	cfg.Store = "bogus"
	cfg.CallTimeout = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FINAGENT_STORE")
	assert.Contains(t, err.Error(), "FINAGENT_CALL_TIMEOUT")
}
