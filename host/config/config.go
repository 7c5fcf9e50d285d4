// Package config loads the rampon-host options through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"rampon/core"
	"rampon/host/accel"
	"rampon/host/serial"
)

const DefaultAppName = "rampon"
const DefaultConfigName = "rampon"
const DefaultEnvPrefix = "RAMPON"

const DefaultOID = 0
const DefaultSPIOID = 1
const DefaultRateHz = 3200
const DefaultDuration = 5 * time.Second
const DefaultLogLevel = "info"
const DefaultMQTTTopic = "rampon/accel"

var userHomeDir, _ = os.UserHomeDir()
var DefaultConfig = path.Join(userHomeDir, ".config", DefaultAppName, DefaultConfigName+".yaml")
var DefaultConfigSearchPath0 = path.Join(userHomeDir, ".config", DefaultAppName)

const DefaultConfigSearchPath1 = "/etc/" + DefaultAppName
const DefaultConfigSearchPath2 = "./"

type MQTTOpt struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

type RamponOpt struct {
	Device        string        `yaml:"device" mapstructure:"device"`
	Baud          int           `yaml:"baud" mapstructure:"baud"`
	ReadTimeoutMS int           `yaml:"read_timeout_ms" mapstructure:"read_timeout_ms"`
	OID           uint8         `yaml:"oid" mapstructure:"oid"`
	SPIOID        uint8         `yaml:"spi_oid" mapstructure:"spi_oid"`
	RateHz        int           `yaml:"rate_hz" mapstructure:"rate_hz"`
	ClockFreq     uint32        `yaml:"clock_freq" mapstructure:"clock_freq"`
	Encoding      string        `yaml:"encoding" mapstructure:"encoding"`
	Duration      time.Duration `yaml:"duration" mapstructure:"duration"`
	AxesMap       []string      `yaml:"axes_map" mapstructure:"axes_map"`
	Output        string        `yaml:"output" mapstructure:"output"`
	MQTT          MQTTOpt       `yaml:"mqtt" mapstructure:"mqtt"`
	LogLevel      string        `yaml:"log_level" mapstructure:"log_level"`
	Simulate      bool          `yaml:"simulate" mapstructure:"simulate"`
}

type RamponDesc struct {
	Opt   RamponOpt
	Viper *viper.Viper
}

func NewRamponDesc() RamponDesc {
	return RamponDesc{
		Opt:   NewRamponOpt(),
		Viper: nil,
	}
}

func NewRamponOpt() RamponOpt {
	return RamponOpt{
		Device:        "/dev/ttyACM0",
		Baud:          serial.DefaultBaud,
		ReadTimeoutMS: int(serial.DefaultReadTimeout / time.Millisecond),
		OID:           DefaultOID,
		SPIOID:        DefaultSPIOID,
		RateHz:        DefaultRateHz,
		Encoding:      core.EncodingADXL345,
		Duration:      DefaultDuration,
		AxesMap:       []string{"x", "y", "z"},
		MQTT: MQTTOpt{
			Topic:    DefaultMQTTTopic,
			ClientID: DefaultAppName,
		},
		LogLevel: DefaultLogLevel,
	}
}

func setDefaults(v *viper.Viper) {
	def := NewRamponOpt()
	v.SetDefault("device", def.Device)
	v.SetDefault("baud", def.Baud)
	v.SetDefault("read_timeout_ms", def.ReadTimeoutMS)
	v.SetDefault("oid", def.OID)
	v.SetDefault("spi_oid", def.SPIOID)
	v.SetDefault("rate_hz", def.RateHz)
	v.SetDefault("clock_freq", def.ClockFreq)
	v.SetDefault("encoding", def.Encoding)
	v.SetDefault("duration", def.Duration)
	v.SetDefault("axes_map", def.AxesMap)
	v.SetDefault("output", def.Output)
	v.SetDefault("mqtt.broker", def.MQTT.Broker)
	v.SetDefault("mqtt.topic", def.MQTT.Topic)
	v.SetDefault("mqtt.client_id", def.MQTT.ClientID)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("simulate", def.Simulate)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device":    "device",
	"baud":      "baud",
	"oid":       "oid",
	"rate":      "rate_hz",
	"encoding":  "encoding",
	"duration":  "duration",
	"output":    "output",
	"broker":    "mqtt.broker",
	"topic":     "mqtt.topic",
	"log-level": "log_level",
	"simulate":  "simulate",
}

// Parse resolves the configuration for cmd, by the following order:
// flags, environment, the file named by --config or RAMPON_CONFIG, the
// default search paths.
func (o *RamponDesc) Parse(cmd *cobra.Command) error {
	vipCfg := viper.New()
	setDefaults(vipCfg)

	if configFileCmd, err := cmd.Flags().GetString("config"); err == nil && configFileCmd != "" {
		vipCfg.SetConfigFile(configFileCmd)
	} else if configFileEnv := os.Getenv(DefaultEnvPrefix + "_CONFIG"); configFileEnv != "" {
		vipCfg.SetConfigFile(configFileEnv)
	} else {
		vipCfg.SetConfigName(DefaultConfigName)
		vipCfg.SetConfigType("yaml")
		vipCfg.AddConfigPath(DefaultConfigSearchPath2)
		vipCfg.AddConfigPath(DefaultConfigSearchPath0)
		vipCfg.AddConfigPath(DefaultConfigSearchPath1)
	}

	vipCfg.SetEnvPrefix(DefaultEnvPrefix)
	vipCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vipCfg.AutomaticEnv()

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = vipCfg.BindPFlag(key, f)
		}
	}

	if err := vipCfg.ReadInConfig(); err == nil {
		log.Debugln("using config file:", vipCfg.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		log.Debugln("no config file found, using defaults")
	}

	var opt RamponOpt
	if err := vipCfg.Unmarshal(&opt); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	o.Opt = opt
	o.Viper = vipCfg
	return nil
}

// PostParse applies the log level.
func (o *RamponDesc) PostParse() error {
	level, err := log.ParseLevel(o.Opt.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// Validate rejects options the capture cannot run with.
func Validate(opt RamponOpt) error {
	var errs []error
	if opt.Device == "" && !opt.Simulate {
		errs = append(errs, errors.New("device must be set"))
	}
	if opt.RateHz == 0 {
		errs = append(errs, errors.New("rate_hz must be set"))
	} else if _, err := accel.RateCode(opt.RateHz); err != nil {
		errs = append(errs, err)
	}
	if _, err := core.EncodingByName(opt.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("encoding %q: %w", opt.Encoding, err))
	}
	if opt.OID == opt.SPIOID {
		errs = append(errs, fmt.Errorf("oid and spi_oid must differ (both %d)", opt.OID))
	}
	if opt.Duration < 0 {
		errs = append(errs, errors.New("duration must not be negative"))
	}
	if _, err := accel.ParseAxesMap(opt.AxesMap); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(opt.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Dump renders opt as YAML.
func Dump(opt RamponOpt) ([]byte, error) {
	return yaml.Marshal(opt)
}

// SaveConfig writes opt to outputPath, creating its directory.
func SaveConfig(opt RamponOpt, outputPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("%s already exists", outputPath)
		}
	}
	if err := os.MkdirAll(path.Dir(outputPath), 0700); err != nil {
		return err
	}
	buffer, err := Dump(opt)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, buffer, 0644)
}

// SerialConfig returns the port settings.
func (o RamponOpt) SerialConfig() *serial.Config {
	return &serial.Config{
		Device:      o.Device,
		Baud:        o.Baud,
		ReadTimeout: time.Duration(o.ReadTimeoutMS) * time.Millisecond,
	}
}
