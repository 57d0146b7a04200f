package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigModes(t *testing.T) {
	opts := options{mode: "count", count: 5, backoffFactor: 1.5}
	cfg, err := buildConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Count)

	opts.mode = "bogus"
	_, err = buildConfig(opts)
	assert.Error(t, err)
}

func TestBuildConfigRejectsOversizedPayload(t *testing.T) {
	opts := options{mode: "default", backoffFactor: 1.5, payloadSize: 65508}
	_, err := buildConfig(opts)
	assert.Error(t, err)
}

func TestBuildConfigRejectsBadBackoff(t *testing.T) {
	opts := options{mode: "default", backoffFactor: 0.5}
	_, err := buildConfig(opts)
	assert.Error(t, err)
}

func TestCollectNamesMergesPositionalAndGenerate(t *testing.T) {
	opts := options{generate: "192.0.2.0/30"}
	names, err := collectNames([]string{"example.invalid"}, opts)
	require.NoError(t, err)
	assert.Contains(t, names, "example.invalid")
	assert.Len(t, names, 3) // 1 positional + 2 usable host addresses (network/broadcast excluded)
}

func TestExpandGenerateRejectsNonCIDR(t *testing.T) {
	_, err := expandGenerate("not-a-cidr")
	assert.Error(t, err)
}
