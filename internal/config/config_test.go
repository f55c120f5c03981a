package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGroupValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "group.toml", `
f = 1

[[parties]]
id = 0
addr = "/ip4/127.0.0.1/tcp/9000"
secret = "aabbccdd"

[[parties]]
id = 1
addr = "/ip4/127.0.0.1/tcp/9001"
secret = "11223344"

[[parties]]
id = 2
addr = "/ip4/127.0.0.1/tcp/9002"
secret = "55667788"

[[parties]]
id = 3
addr = "/ip4/127.0.0.1/tcp/9003"
secret = "99aabbcc"
`)

	group, err := LoadGroup(path)
	require.NoError(t, err)
	require.Equal(t, 4, group.N())
	require.Equal(t, 1, group.F)
}

func TestLoadGroupRejectsBadSecret(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "group.toml", `
f = 0

[[parties]]
id = 0
addr = "/ip4/127.0.0.1/tcp/9000"
secret = "not-hex!!"
`)

	_, err := LoadGroup(path)
	require.Error(t, err)
}

func TestLoadGroupRejectsInsufficientN(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "group.toml", `
f = 2

[[parties]]
id = 0
addr = "/ip4/127.0.0.1/tcp/9000"
secret = "aabbccdd"

[[parties]]
id = 1
addr = "/ip4/127.0.0.1/tcp/9001"
secret = "11223344"
`)

	_, err := LoadGroup(path)
	require.Error(t, err)
}

func TestLoadNodeConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.toml", `
protocol = "ctrbc"
input = "hello"
byz = false
crash = false
config = "group.toml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ctrbc", cfg.Protocol)
	require.Equal(t, []byte("hello"), cfg.Input)
	require.False(t, cfg.Honest)
	require.False(t, cfg.NotCrashed)
	require.Equal(t, "group.toml", cfg.GroupFile)
}

func TestLoadNodeConfigAliasesRBCToAddRBC(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.toml", `
protocol = "rbc"
input = "x"
config = "group.toml"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "addrbc", cfg.Protocol)
}

func TestLoadNodeConfigRejectsUnknownProtocol(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.toml", `
protocol = "paxos"
input = "x"
config = "group.toml"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadNodeConfigRejectsMissingGroupFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.toml", `
protocol = "addrbc"
input = "x"
`)

	_, err := Load(path)
	require.Error(t, err)
}
