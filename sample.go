package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"

	"github.com/tosih/m21-livetune/pkg/rma"
)

type SampleConfig struct {
	*MainConfig
	Sample *cli.Command

	Address  string `cli:"name=address desc='first RAM address to sample'"`
	Length   int    `cli:"name=length desc='bytes per sample (1-255)'"`
	Interval int    `cli:"name=interval desc='sampling interval in milliseconds'"`
	Output   string `cli:"name=o aliases=output desc='CSV output file'"`
	Gops     bool   `cli:"name=gops desc='start the gops diagnostics agent'"`
}

func SampleCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &SampleConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Sample, "sample").
		WithAliases("s").
		WithSynopsis("sample -address 0x40000010 [-length n] [-interval ms] -o samples.csv").
		WithDescription("read a RAM range periodically and log every sample to CSV until interrupted").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return sample(cfg, cc, args)
		})
}

func sample(cfg *SampleConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Sample.Parse(cc, args); err != nil {
		return err
	}
	s := cfg.Session.Sample
	if cfg.Address != "" {
		s.Address = cfg.Address
	}
	if cfg.Length != 0 {
		s.Length = cfg.Length
	}
	if cfg.Interval != 0 {
		s.IntervalMS = cfg.Interval
	}
	if cfg.Output != "" {
		s.Output = cfg.Output
	}
	session, err := s.Session()
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}

	client, err := cfg.client()
	if err != nil {
		return err
	}
	defer startAgent(cfg.Gops)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Sampling 0x%08X (%d bytes) every %s", session.Address, session.Length, session.Interval))
	var samples, failures atomic.Int64
	err = client.StartSampling(session, rma.SampleListener{
		Data: func(sm rma.Sample) {
			samples.Add(1)
			spinner.UpdateText(fmt.Sprintf("#%d %s %s", samples.Load(), sm.Time.Format("15:04:05.000"), hexBytes(sm.Result.Data)))
		},
		Error: func(err error) {
			failures.Add(1)
			cfg.Log.Warn("sample failed", cfg.Log.Args("error", err))
		},
	})
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}

	<-ctx.Done()
	start := time.Now()
	if err := client.StopSampling(); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	cfg.Log.Debug("sampler stopped", cfg.Log.Args("took", time.Since(start)))
	spinner.Success(fmt.Sprintf("%d samples (%d failed reads) written to %s", samples.Load(), failures.Load(), session.OutputPath))
	return nil
}

func hexBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
