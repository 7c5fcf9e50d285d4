package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	RootCmd.SetArgs(args)
	return RootCmd.Execute()
}

func TestCaptureSimulatedWritesCSV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "accel.csv")
	err := execute(t, "capture", "--simulate", "--rate", "400", "--duration", "200ms", "--output", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, "#time,accel_x,accel_y,accel_z", lines[0])
	require.Greater(t, len(lines), 1)
}

func TestDictAndStatusSimulated(t *testing.T) {
	require.NoError(t, execute(t, "dict", "--simulate"))
	require.NoError(t, execute(t, "info", "--simulate"))
	require.NoError(t, execute(t, "status", "--simulate"))
}

func TestConfigInitWritesYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rampon.yaml")
	require.NoError(t, execute(t, "config", "init", "--device", "/dev/ttyACM7", "--file", file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var opt map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &opt))
	require.Equal(t, "/dev/ttyACM7", opt["device"])

	require.Error(t, execute(t, "config", "init", "--device", "/dev/ttyACM7", "--file", file))
	require.NoError(t, execute(t, "config", "init", "--device", "/dev/ttyACM7", "--file", file, "--yes"))
}

func TestInvalidConfigurationFails(t *testing.T) {
	require.Error(t, execute(t, "config", "dump", "--config", filepath.Join(t.TempDir(), "missing.yaml")))
}
