package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rampon/host/accel"
	"rampon/host/capture"
	"rampon/host/config"
	"rampon/host/mcu"
	"rampon/host/publish"
	"rampon/host/sim"
	"rampon/protocol"
)

const connectTimeout = 10 * time.Second

// simInterval is the control loop period of --simulate.
const simInterval = 250 * time.Microsecond

func loadConfig(cmd *cobra.Command) (config.RamponOpt, error) {
	desc := config.NewRamponDesc()
	if err := desc.Parse(cmd); err != nil {
		return config.RamponOpt{}, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		desc.Opt.LogLevel = "debug"
	}
	if err := desc.PostParse(); err != nil {
		return config.RamponOpt{}, err
	}
	if err := config.Validate(desc.Opt); err != nil {
		return config.RamponOpt{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return desc.Opt, nil
}

// connect opens the MCU link and loads its dictionary.
func connect(ctx context.Context, opt config.RamponOpt) (*mcu.MCU, error) {
	var m *mcu.MCU
	if opt.Simulate {
		s, err := sim.New(sim.Config{Encoding: opt.Encoding, Interval: simInterval})
		if err != nil {
			return nil, err
		}
		log.Infoln("using simulated MCU")
		m = mcu.New(s)
	} else {
		var err error
		log.WithField("device", opt.Device).Infoln("connecting")
		if m, err = mcu.Open(opt.SerialConfig()); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := m.RetrieveDictionary(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("retrieve dictionary: %w", err)
	}
	return m, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func DictCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	m, err := connect(ctx, opt)
	if err != nil {
		return err
	}
	defer m.Close()

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		dict, err := mcu.ParseDictionary(m.DictionaryRaw())
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", *dict)
		return nil
	}
	fmt.Print(m.Dictionary().Summary())
	return nil
}

func queryUints(ctx context.Context, m *mcu.MCU, name, response string, n int) ([]uint32, error) {
	data, err := m.Query(ctx, name, nil, response)
	if err != nil {
		return nil, err
	}
	values := make([]uint32, n)
	for i := range values {
		if values[i], err = protocol.DecodeVLQUint(&data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", response, err)
		}
	}
	return values, nil
}

func InfoCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	m, err := connect(ctx, opt)
	if err != nil {
		return err
	}
	defer m.Close()

	clock, err := queryUints(ctx, m, "get_clock", "clock", 1)
	if err != nil {
		return err
	}
	uptime, err := queryUints(ctx, m, "get_uptime", "uptime", 2)
	if err != nil {
		return err
	}
	cfg, err := queryUints(ctx, m, "get_config", "config", 4)
	if err != nil {
		return err
	}

	freq, _ := m.Dictionary().ConfigUint("CLOCK_FREQ")
	ticks := uint64(uptime[0])<<32 | uint64(uptime[1])
	fmt.Printf("clock:       %d\n", clock[0])
	if freq > 0 {
		fmt.Printf("uptime:      %s\n", time.Duration(ticks*uint64(time.Second)/uint64(freq)))
	}
	fmt.Printf("configured:  %t (crc %#08x)\n", cfg[0] != 0, cfg[1])
	fmt.Printf("shutdown:    %t\n", cfg[2] != 0)
	return nil
}

func sessionOptions(opt config.RamponOpt) (capture.Options, error) {
	axes, err := accel.ParseAxesMap(opt.AxesMap)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		OID:       opt.OID,
		SPIOID:    opt.SPIOID,
		RateHz:    opt.RateHz,
		ClockFreq: opt.ClockFreq,
		Encoding:  opt.Encoding,
		Axes:      axes,
	}, nil
}

func printStatus(s accel.Status) {
	fmt.Printf("oid:           %d\n", s.OID)
	fmt.Printf("clock:         %d (+%d)\n", s.Clock, s.QueryTicks)
	fmt.Printf("next sequence: %d\n", s.NextSequence)
	fmt.Printf("pending:       %d samples\n", s.Pending())
	fmt.Printf("overflows:     %d\n", s.Overflows)
}

func StatusCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	m, err := connect(ctx, opt)
	if err != nil {
		return err
	}
	defer m.Close()

	sopt, err := sessionOptions(opt)
	if err != nil {
		return err
	}
	session, err := capture.NewSession(m, sopt, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Configure(ctx); err != nil {
		return err
	}
	status, err := session.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

// sinks builds the outputs requested by opt. The returned func releases
// them.
func sinks(opt config.RamponOpt) (accel.Sink, func(), error) {
	var out publish.Multi
	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if opt.Output != "" {
		f, err := os.Create(opt.Output)
		if err != nil {
			return nil, release, err
		}
		w := publish.NewCSV(f)
		out = append(out, w)
		closers = append(closers, func() {
			if err := w.Flush(); err != nil {
				log.WithError(err).Errorln("flush csv")
			}
			_ = f.Close()
		})
	}
	if opt.MQTT.Broker != "" {
		p, err := publish.DialMQTT(opt.MQTT.Broker, opt.MQTT.Topic, opt.MQTT.ClientID)
		if err != nil {
			return nil, release, err
		}
		out = append(out, p)
		closers = append(closers, func() { _ = p.Close() })
	}
	if len(out) == 0 {
		return nil, release, nil
	}
	return out, release, nil
}

func CaptureCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	sink, release, err := sinks(opt)
	defer release()
	if err != nil {
		return err
	}

	m, err := connect(ctx, opt)
	if err != nil {
		return err
	}
	defer m.Close()

	sopt, err := sessionOptions(opt)
	if err != nil {
		return err
	}
	session, err := capture.NewSession(m, sopt, sink)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Configure(ctx); err != nil {
		return err
	}

	if opt.Duration == 0 {
		log.Infoln("capturing until interrupted")
	}
	stats, err := session.Run(ctx, opt.Duration)
	if err != nil {
		return err
	}

	fmt.Println(stats.String())
	if stats.Last != nil {
		printStatus(*stats.Last)
	}
	return nil
}

func ConfigDumpCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	buffer, err := config.Dump(opt)
	if err != nil {
		return err
	}
	fmt.Print(string(buffer))
	return nil
}

func ConfigInitCmdRunE(cmd *cobra.Command, _ []string) error {
	opt, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	overwrite, _ := cmd.Flags().GetBool("yes")
	if err := config.SaveConfig(opt, file, overwrite); err != nil {
		return err
	}
	log.Infoln("configuration written to", file)
	return nil
}
