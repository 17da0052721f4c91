package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"

	"github.com/tosih/m21-livetune/pkg/config"
	"github.com/tosih/m21-livetune/pkg/ecusim"
)

type MainConfig struct {
	Gateway    string `cli:"name=gateway desc='CAN gateway address (host:port)'"`
	Sim        bool   `cli:"name=sim desc='talk to a simulated controller'"`
	ConfigFile string `cli:"name=config desc='session file (yaml)'"`
	Verbose    bool   `cli:"name=v aliases=verbose desc='debug logging'"`

	Session *config.Session
	Log     *pterm.Logger

	// shared by every command of one invocation so pokes are visible to peeks
	sim *ecusim.ECU

	Main *cli.Command
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "m21").
		WithSynopsis("m21 [-gateway host:port | -sim] [-config file] command [opts]").
		WithDescription("m21 live-tunes and samples Motronic M2.1 controller RAM.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return mainRun(cfg, cc, args)
		}).
		WithSubs(
			TuneCommand(cfg),
			SampleCommand(cfg),
			DumpCommand(cfg),
			PeekCommand(cfg),
			PokeCommand(cfg),
			PatchCommand(cfg),
			MapsCommand(cfg),
			CompareCommand(cfg))
}

func mainRun(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		pterm.DisableStyling()
	}
	if err := cfg.setup(); err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

// setup loads the session file and applies the global flags over it.
func (cfg *MainConfig) setup() error {
	level := pterm.LogLevelInfo
	if cfg.Verbose {
		level = pterm.LogLevelDebug
	}
	cfg.Log = pterm.DefaultLogger.WithLevel(level)

	cfg.Session = config.Default()
	if cfg.ConfigFile != "" {
		s, err := config.Load(cfg.ConfigFile)
		if err != nil {
			return fmt.Errorf("%w: %w", cli.ErrUsage, err)
		}
		cfg.Session = s
		cfg.Log.Debug("session loaded", cfg.Log.Args("file", cfg.ConfigFile))
	}
	if cfg.Gateway != "" {
		cfg.Session.Transport.Gateway = cfg.Gateway
		cfg.Session.Transport.Simulate = false
	}
	if cfg.Sim {
		cfg.Session.Transport.Simulate = true
		cfg.Session.Transport.Gateway = ""
	}
	return nil
}

// argAddress parses a positional address argument.
func argAddress(name, s string) (uint32, error) {
	v, err := config.ParseAddress(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", cli.ErrUsage, name, err)
	}
	return v, nil
}
