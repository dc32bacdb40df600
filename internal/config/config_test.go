package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2sim/internal/rlc"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.PDCP.Compression)
	assert.True(t, cfg.PDCP.Ciphering)
	assert.Equal(t, 0x5A, cfg.PDCP.CipherKey)
	assert.Equal(t, "um", cfg.RLC.Mode)
	assert.Equal(t, 20, cfg.RLC.SegmentSize)
	assert.Equal(t, 8, cfg.HARQ.Processes)
	assert.Equal(t, 4, cfg.MAC.LogicalChannelID)
	assert.Equal(t, 50, cfg.MAC.SRThreshold)
	assert.Equal(t, 4, cfg.PHY.MaxAttempts)
	assert.Equal(t, "dummy", cfg.Source.Kind)
	assert.Equal(t, 1000, cfg.Timing.CycleIntervalMs)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l2sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pdcp:
  ciphering: false
rlc:
  mode: tm
harq:
  processes: 4
phy:
  nack_first: 2
timing:
  cycles: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.PDCP.Ciphering)
	assert.True(t, cfg.PDCP.Compression)
	assert.Equal(t, "tm", cfg.RLC.Mode)
	assert.Equal(t, 4, cfg.HARQ.Processes)
	assert.Equal(t, 2, cfg.PHY.NackFirst)
	assert.Equal(t, 10, cfg.Timing.Cycles)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithViper_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("rlc.segment_size", 64)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.RLC.SegmentSize)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RLC.Mode = "am"
	cfg.HARQ.Processes = 17
	cfg.PDCP.CipherKey = 300
	cfg.Source.Kind = "pcap"
	cfg.Logging.Level = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "rlc.mode 'am' is not supported")
	assert.Contains(t, msg, "harq.processes")
	assert.Contains(t, msg, "pdcp.cipher_key")
	assert.Contains(t, msg, "source.pcap_file must be specified")
	assert.Contains(t, msg, "logging.level")
}

func TestValidate_Metrics(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "nope"
	cfg.Metrics.Path = "metrics"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.listen")
	assert.Contains(t, err.Error(), "metrics.path")
}

func TestValidate_MaxRetransmissionsNeedsTimeout(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.HARQ.MaxRetransmissions = 3
	assert.ErrorContains(t, cfg.Validate(), "harq.max_retransmissions requires harq.retx_timeout_ms")

	cfg.HARQ.RetxTimeoutMs = 50
	assert.NoError(t, cfg.Validate())
}

func TestValidate_BadCIDR(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Source.UEIPPool = "10.0.0.0/99"
	assert.ErrorContains(t, cfg.Validate(), "invalid UE IP pool")
}

func TestConfig_LinkConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RLC.Mode = "TM"
	cfg.PHY.NackFirst = 1

	lc, err := cfg.LinkConfig()
	require.NoError(t, err)
	assert.Equal(t, rlc.TransparentMode, lc.RLC.Mode)
	assert.Equal(t, byte(0x5A), lc.PDCP.Key)
	assert.Equal(t, uint8(4), lc.LCID)
	assert.Equal(t, 8, lc.MAC.Processes)
	assert.Equal(t, 1, lc.NackFirst)

	cfg.RLC.Mode = "xx"
	_, err = cfg.LinkConfig()
	assert.Error(t, err)
}

func TestConfig_Summary(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	s := cfg.Summary()
	assert.Contains(t, s, "mode=UM")
	assert.Contains(t, s, "dummy (pool 192.168.1.96/28)")
}
