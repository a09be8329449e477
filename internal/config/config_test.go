package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rycus86/intellihomehub/internal/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	assert.False(t, cfg.Server)
	require.Len(t, cfg.Communication, 1)
	assert.Equal(t, config.Endpoint{Mode: "mcast", Host: config.DefaultMulticastHost, Port: config.DefaultPort}, cfg.Communication[0])
}

func TestParse_CommunicationModeHostPort(t *testing.T) {
	cfg, err := config.Parse([]string{"--communication=mcast@239.1.1.1:50000;tcp:6000;udp"})
	require.NoError(t, err)

	require.Len(t, cfg.Communication, 3)
	assert.Equal(t, config.Endpoint{Mode: "mcast", Host: "239.1.1.1", Port: 50000}, cfg.Communication[0])
	assert.Equal(t, config.Endpoint{Mode: "tcp", Host: config.DefaultBindHost, Port: 6000}, cfg.Communication[1])
	assert.Equal(t, config.Endpoint{Mode: "udp", Host: config.DefaultBindHost, Port: config.DefaultPort}, cfg.Communication[2])
}

func TestParse_UnknownModeIsSkipped(t *testing.T) {
	cfg, err := config.Parse([]string{"--communication=bogus;tcp:7000"})
	require.NoError(t, err)

	require.Len(t, cfg.Communication, 1)
	assert.Equal(t, "tcp", cfg.Communication[0].Mode)
}

func TestParse_SearchPathsAndLang(t *testing.T) {
	cfg, err := config.Parse([]string{"--entities=/a;/b", "--images=/img", "--lang=de"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, cfg.EntitiesSearchPath)
	assert.Equal(t, []string{"/img"}, cfg.ImagesSearchPath)
	assert.Equal(t, "de", cfg.Lang)
}

func TestParse_ServerAndDBFlags(t *testing.T) {
	cfg, err := config.Parse([]string{"--server", "--db=/tmp/hub.db"})
	require.NoError(t, err)

	assert.True(t, cfg.Server)
	assert.Equal(t, "/tmp/hub.db", cfg.DBPath)
}
