package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"
	"golang.org/x/sync/errgroup"

	"github.com/tosih/m21-livetune/pkg/image"
	"github.com/tosih/m21-livetune/pkg/livetune"
	"github.com/tosih/m21-livetune/pkg/monitor"
	"github.com/tosih/m21-livetune/pkg/renderer"
)

type TuneConfig struct {
	*MainConfig
	Tune *cli.Command

	File     string `cli:"name=file desc='calibration image to watch'"`
	Base     string `cli:"name=base desc='RAM address the image is mirrored at'"`
	Interval int    `cli:"name=interval desc='scan interval in milliseconds'"`
	Backup   bool   `cli:"name=backup desc='back up the image before tuning'"`
	Gops     bool   `cli:"name=gops desc='start the gops diagnostics agent'"`
}

func TuneCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &TuneConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Tune, "tune").
		WithAliases("t").
		WithSynopsis("tune -file cal.bin -base 0x40000000 [-interval ms] [-backup]").
		WithDescription("mirror every edit of a calibration image into controller RAM until interrupted").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return tune(cfg, cc, args)
		})
}

// tuneEvent is rendered on the printer goroutine.
type tuneEvent func()

func tune(cfg *TuneConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Tune.Parse(cc, args); err != nil {
		return err
	}
	t := cfg.Session.Tune
	if cfg.File != "" {
		t.File = cfg.File
	}
	if cfg.Base != "" {
		t.Base = cfg.Base
	}
	if cfg.Interval != 0 {
		t.IntervalMS = cfg.Interval
	}
	t.Backup = t.Backup || cfg.Backup
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	base, _ := t.BaseAddress()

	open, err := cfg.opener()
	if err != nil {
		return err
	}
	if cfg.sim != nil {
		seedSimulator(cfg.MainConfig, t.File, base)
	}
	if t.Backup {
		backup, err := image.Backup(t.File)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		pterm.Success.Printf("Backup created: %s\n", backup)
	}
	defer startAgent(cfg.Gops)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan tuneEvent, 256)
	post := func(ev tuneEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	var writes, failures atomic.Int64
	bridge := livetune.New(open, livetune.Listener{
		WordChanged: func(c monitor.WordChange) {
			cfg.Log.Debug("word changed", cfg.Log.Args("change", c.String()))
		},
		Reloaded: func(s monitor.ReloadSummary) {
			if s.SizeChanged {
				post(func() { pterm.Warning.Printf("Image size changed, %d words differ in the common prefix\n", s.ChangedWords) })
			}
		},
		WriteCompleted: func(w livetune.WriteCompleted) {
			writes.Add(1)
			post(func() { renderer.RenderChange(w) })
		},
		Error: func(err error) {
			failures.Add(1)
			post(func() { pterm.Error.Println(err) })
		},
	}, livetune.WithLogger(cfg.Log))

	if err := bridge.Start(t.File, base, t.Interval()); err != nil {
		return err
	}
	pterm.Info.Printf("Watching %s -> 0x%08X every %s. Press Ctrl+C to stop.\n", t.File, base, t.Interval())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case ev := <-events:
				ev()
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return bridge.Stop()
	})
	err = g.Wait()
	for len(events) > 0 {
		(<-events)()
	}

	pterm.Println()
	pterm.DefaultBox.WithTitle("Live tuning stopped").Println(fmt.Sprintf(
		"Image:    %s\nBase:     0x%08X\nWrites:   %d\nFailures: %d", t.File, base, writes.Load(), failures.Load()))
	return err
}

// seedSimulator loads the image into simulated RAM so that reads through
// the simulator match the file.
func seedSimulator(cfg *MainConfig, file string, base uint32) {
	data, err := os.ReadFile(file)
	if err != nil {
		return
	}
	if err := cfg.sim.Poke(base, data); err != nil {
		cfg.Log.Warn("image does not fit simulated RAM", cfg.Log.Args("error", err))
	}
}
