package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mrpcd.yaml")

	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)

	return path
}

func serveFlags(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("listen", "localhost:0", "")
	fs.String("transport", "quic", "")
	fs.String("metrics-addr", "", "")
	fs.StringSlice("etcd", nil, "")
	fs.Bool("trace", false, "")
	fs.Parse(args)

	return fs
}

func TestLoadConfigFillsUnsetFlags(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, `
listen: 0.0.0.0:4455
transport: grpc
metrics_addr: localhost:9100
etcd:
  - localhost:2379
trace: true
`)

	cfg := serveConfig{Listen: "localhost:0", Transport: "quic"}

	err := loadConfig(path, &cfg, serveFlags())
	r.NoError(err)

	r.Equal("0.0.0.0:4455", cfg.Listen)
	r.Equal("grpc", cfg.Transport)
	r.Equal("localhost:9100", cfg.MetricsAddr)
	r.Equal([]string{"localhost:2379"}, cfg.Etcd)
	r.True(cfg.Trace)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, `
listen: 0.0.0.0:4455
transport: grpc
`)

	cfg := serveConfig{Listen: "localhost:7000", Transport: "quic"}

	err := loadConfig(path, &cfg, serveFlags("--listen", "localhost:7000"))
	r.NoError(err)

	// The flag set on the command line keeps its value; the rest come from
	// the file.
	r.Equal("localhost:7000", cfg.Listen)
	r.Equal("grpc", cfg.Transport)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")

	var cfg serveConfig

	err := loadConfig(path, &cfg, serveFlags())
	require.Error(t, err)
}
