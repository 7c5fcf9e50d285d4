package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("device", "", "")
	cmd.Flags().Int("rate", 0, "")
	cmd.Flags().Duration("duration", 0, "")
	cmd.Flags().Bool("simulate", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "rampon.yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0644))
	return file
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(NewRamponOpt()))
}

func TestParseFileAndFlags(t *testing.T) {
	file := writeConfig(t, `
device: /dev/ttyUSB3
rate_hz: 800
encoding: bulk
duration: 2s
mqtt:
  broker: mqtt://localhost:1883
  topic: shaper/x
`)
	cmd := newCmd(t, "--config", file, "--rate", "1600")

	desc := NewRamponDesc()
	require.NoError(t, desc.Parse(cmd))
	opt := desc.Opt
	require.Equal(t, "/dev/ttyUSB3", opt.Device)
	require.Equal(t, 1600, opt.RateHz)
	require.Equal(t, "bulk", opt.Encoding)
	require.Equal(t, 2*time.Second, opt.Duration)
	require.Equal(t, "mqtt://localhost:1883", opt.MQTT.Broker)
	require.Equal(t, "shaper/x", opt.MQTT.Topic)
	require.Equal(t, DefaultAppName, opt.MQTT.ClientID)
	require.Equal(t, []string{"x", "y", "z"}, opt.AxesMap)
	require.NoError(t, Validate(opt))
	require.Equal(t, file, desc.Viper.ConfigFileUsed())
}

func TestParseEnvironment(t *testing.T) {
	file := writeConfig(t, "device: /dev/ttyACM1\n")
	t.Setenv("RAMPON_CONFIG", file)
	t.Setenv("RAMPON_OID", "4")
	t.Setenv("RAMPON_MQTT_TOPIC", "from/env")

	desc := NewRamponDesc()
	require.NoError(t, desc.Parse(newCmd(t)))
	require.Equal(t, "/dev/ttyACM1", desc.Opt.Device)
	require.Equal(t, uint8(4), desc.Opt.OID)
	require.Equal(t, "from/env", desc.Opt.MQTT.Topic)
}

func TestParseBrokenFile(t *testing.T) {
	file := writeConfig(t, "device: [unterminated\n")
	desc := NewRamponDesc()
	require.Error(t, desc.Parse(newCmd(t, "--config", file)))
}

func TestPostParseSetsLevel(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	desc := NewRamponDesc()
	desc.Opt.LogLevel = "debug"
	require.NoError(t, desc.PostParse())
	require.Equal(t, log.DebugLevel, log.GetLevel())

	desc.Opt.LogLevel = "chatty"
	require.Error(t, desc.PostParse())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(o *RamponOpt){
		"empty device":     func(o *RamponOpt) { o.Device = "" },
		"zero rate":        func(o *RamponOpt) { o.RateHz = 0 },
		"unsupported rate": func(o *RamponOpt) { o.RateHz = 1000 },
		"unknown encoding": func(o *RamponOpt) { o.Encoding = "lis2dw" },
		"shared oid":       func(o *RamponOpt) { o.SPIOID = o.OID },
		"negative time":    func(o *RamponOpt) { o.Duration = -time.Second },
		"bad axes":         func(o *RamponOpt) { o.AxesMap = []string{"x", "x", "y"} },
		"bad level":        func(o *RamponOpt) { o.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opt := NewRamponOpt()
			mutate(&opt)
			require.Error(t, Validate(opt))
		})
	}
}

func TestSimulateNeedsNoDevice(t *testing.T) {
	opt := NewRamponOpt()
	opt.Device = ""
	opt.Simulate = true
	require.NoError(t, Validate(opt))
}

func TestDumpAndSave(t *testing.T) {
	opt := NewRamponOpt()
	opt.MQTT.Broker = "mqtt://broker:1883"

	out, err := Dump(opt)
	require.NoError(t, err)
	require.Contains(t, string(out), "duration: 5s")

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Equal(t, 3200, back["rate_hz"])
	require.Equal(t, "mqtt://broker:1883", back["mqtt"].(map[string]interface{})["broker"])

	file := filepath.Join(t.TempDir(), "sub", "rampon.yaml")
	require.NoError(t, SaveConfig(opt, file, false))
	require.Error(t, SaveConfig(opt, file, false))
	require.NoError(t, SaveConfig(opt, file, true))

	cmd := newCmd(t, "--config", file)
	desc := NewRamponDesc()
	require.NoError(t, desc.Parse(cmd))
	require.Equal(t, opt, desc.Opt)
}

func TestSerialConfig(t *testing.T) {
	opt := NewRamponOpt()
	opt.ReadTimeoutMS = 250
	cfg := opt.SerialConfig()
	require.Equal(t, opt.Device, cfg.Device)
	require.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
}
