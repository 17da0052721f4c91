package main

import (
	"fmt"
	"os"

	"github.com/google/gops/agent"
	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"

	"github.com/tosih/m21-livetune/pkg/can"
	"github.com/tosih/m21-livetune/pkg/ecusim"
	"github.com/tosih/m21-livetune/pkg/rma"
)

// opener returns how channels to the controller are acquired.
func (cfg *MainConfig) opener() (can.OpenFunc, error) {
	t := cfg.Session.Transport
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	if t.Simulate {
		if cfg.sim == nil {
			cfg.sim = ecusim.New(ecusim.WithLogger(cfg.Log))
			pterm.Warning.Println("Using a simulated controller, nothing is sent to a vehicle")
		}
		return cfg.sim.Open, nil
	}
	cfg.Log.Debug("using gateway", cfg.Log.Args("address", t.Gateway, "timeout", t.DialTimeout()))
	return can.DialGateway(t.Gateway, t.DialTimeout()), nil
}

func (cfg *MainConfig) client() (*rma.Client, error) {
	open, err := cfg.opener()
	if err != nil {
		return nil, err
	}
	return rma.NewClient(open, rma.WithLogger(cfg.Log)), nil
}

// startAgent starts the gops diagnostics agent for long-running commands.
func startAgent(enabled bool) func() {
	if !enabled {
		return func() {}
	}
	if err := agent.Listen(agent.Options{}); err != nil {
		fmt.Fprintf(os.Stderr, "gops agent failed: %v\n", err)
		return func() {}
	}
	return agent.Close
}
