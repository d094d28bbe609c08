package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsproxy/dnsproxy/config"
	"github.com/dnsproxy/dnsproxy/mock"
	"github.com/dnsproxy/dnsproxy/upstream"
)

func Test_ProbeCommand(t *testing.T) {
	bad, err := mock.NewServer(mock.Answer("10.10.10.10", "fe80::10"))
	require.NoError(t, err)
	defer bad.Close()

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"probe", "--rounds", "1", "--timeout", "1s", bad.Addr().String()})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "10.10.10.10\nfe80::10\n", out.String())
}

func Test_GenconfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsproxy.conf")

	rootCmd.SetArgs([]string{"genconfig", path})
	require.NoError(t, rootCmd.Execute())

	cfg, err := config.Load(path, version)
	require.NoError(t, err)
	assert.Equal(t, "fastmail.com", cfg.ProbeDomain)
}

func Test_ProberUsesProbeTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Timeout.Duration = 2 * time.Second
	cfg.ProbeTimeout.Duration = 5 * time.Second

	p := newProber(cfg)

	client, ok := p.Client.(*upstream.Client)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, client.Timeout())
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.Equal(t, cfg.ProbeRounds, p.Rounds)
}

func Test_RunDryRun(t *testing.T) {
	setupLogger("debug")

	cfg := config.Default()
	cfg.Bind = "127.0.0.1:0"
	cfg.API = ""
	cfg.GoodServers = []string{"127.0.0.1:1"}
	cfg.GoodServersCache = filepath.Join(t.TempDir(), "goodservers.json")
	cfg.DomainSuffix = "dnsproxy.invalid"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, cfg, true))
}
