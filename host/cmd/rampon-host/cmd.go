package main

import (
	"github.com/spf13/cobra"

	"rampon/host/config"
)

var RootCmd = &cobra.Command{
	Use:           "rampon-host",
	Short:         "host tool for the rampon accelerometer firmware",
	Long:          "rampon-host talks to an ADXL345 accelerometer MCU over its serial link: it reads the data dictionary, queries the sensor and captures acceleration streams.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func RootCmdFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "configuration file path")
	cmd.PersistentFlags().StringP("device", "d", "", "serial device of the MCU")
	cmd.PersistentFlags().Int("baud", 0, "serial baud rate, ignored by USB CDC")
	cmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "shorthand for --log-level=debug")
	cmd.PersistentFlags().Bool("simulate", false, "run against an in-process simulated MCU")
}

var DictCmd = &cobra.Command{
	Use:   "dict",
	Short: "dict prints the MCU data dictionary",
	Example: `  rampon-host dict --device /dev/ttyACM0
  rampon-host dict --raw`,
	RunE: DictCmdRunE,
}

func DictCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("raw", false, "print the dictionary as served, after inflating")
}

var InfoCmd = &cobra.Command{
	Use:   "info",
	Short: "info prints the MCU clock, uptime and configuration state",
	RunE:  InfoCmdRunE,
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "status configures the accelerometer and prints its FIFO status",
	RunE:  StatusCmdRunE,
}

func StatusCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Uint8("oid", config.DefaultOID, "accelerometer object id")
}

var CaptureCmd = &cobra.Command{
	Use:     "capture",
	Aliases: []string{"measure"},
	Short:   "capture streams acceleration samples for a while",
	Long: `capture configures the accelerometer, starts sampling and decodes the
data replies until --duration elapses or the command is interrupted. Samples
can be written to a CSV file (--output) and published over MQTT (--broker).
The final status reply and the capture counters are printed at the end.`,
	Example: `  rampon-host capture --rate 3200 --duration 10s --output resonances.csv
  rampon-host capture --broker mqtt://localhost:1883 --topic printer/accel`,
	RunE: CaptureCmdRunE,
}

func CaptureCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Uint8("oid", config.DefaultOID, "accelerometer object id")
	cmd.Flags().Int("rate", config.DefaultRateHz, "data rate in Hz (25 to 3200, powers of two)")
	cmd.Flags().Duration("duration", config.DefaultDuration, "capture length, 0 runs until interrupted")
	cmd.Flags().String("encoding", "", "reply encoding the firmware was built with: adxl345 or bulk")
	cmd.Flags().StringP("output", "o", "", "CSV file for the samples")
	cmd.Flags().String("broker", "", "MQTT broker url, e.g. mqtt://host:1883")
	cmd.Flags().String("topic", config.DefaultMQTTTopic, "MQTT topic")
}

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "config shows or writes the host configuration",
}

var ConfigDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "dump prints the effective configuration as YAML",
	RunE:  ConfigDumpCmdRunE,
}

var ConfigInitCmd = &cobra.Command{
	Use:   "init",
	Short: "init writes a configuration template",
	Long: `init writes the effective configuration to --file, by default
$HOME/.config/rampon/rampon.yaml. An existing file is only replaced with --yes.`,
	RunE: ConfigInitCmdRunE,
}

func ConfigInitCmdFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", config.DefaultConfig, "file to write")
	cmd.Flags().BoolP("yes", "y", false, "overwrite an existing file")
}

func init() {
	RootCmdFlags(RootCmd)
	DictCmdFlags(DictCmd)
	StatusCmdFlags(StatusCmd)
	CaptureCmdFlags(CaptureCmd)
	ConfigInitCmdFlags(ConfigInitCmd)

	ConfigCmd.AddCommand(ConfigDumpCmd, ConfigInitCmd)
	RootCmd.AddCommand(DictCmd, InfoCmd, StatusCmd, CaptureCmd, ConfigCmd)
}
