package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"

	"github.com/tosih/m21-livetune/pkg/renderer"
	"github.com/tosih/m21-livetune/pkg/rma"
)

type DumpConfig struct {
	*MainConfig
	Dump *cli.Command

	Address string `cli:"name=address desc='first RAM address' default=0x40000000"`
	Length  int    `cli:"name=length desc='bytes to read' default=65536"`
	Output  string `cli:"name=o aliases=output desc='output file' default=ram.bin"`
}

func DumpCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DumpConfig{MainConfig: mainCfg, Address: "0x40000000", Length: rma.RAMSize, Output: "ram.bin"}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Dump, "dump").
		WithSynopsis("dump [-address addr] [-length n] [-o file]").
		WithDescription("read a RAM range into a file").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return dump(cfg, cc, args)
		})
}

func dump(cfg *DumpConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Dump.Parse(cc, args); err != nil {
		return err
	}
	addr, err := argAddress("address", cfg.Address)
	if err != nil {
		return err
	}
	if err := rma.ValidateRange(addr, cfg.Length); err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	client, err := cfg.client()
	if err != nil {
		return err
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pb, _ := pterm.DefaultProgressbar.WithTotal(cfg.Length).WithTitle(fmt.Sprintf("Dumping 0x%08X", addr)).Start()
	last := 0
	err = client.Dump(ctx, addr, cfg.Length, f, func(done, total int) {
		pb.Add(done - last)
		last = done
	})
	pb.Stop()
	if err != nil {
		return fmt.Errorf("dump stopped after %d of %d bytes: %w", last, cfg.Length, err)
	}
	pterm.Success.Printf("Wrote %d bytes from 0x%08X to %s\n", cfg.Length, addr, cfg.Output)
	return f.Close()
}

type PeekConfig struct {
	*MainConfig
	Peek *cli.Command

	Length int `cli:"name=length desc='bytes to read (1-255)' default=16"`
}

func PeekCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PeekConfig{MainConfig: mainCfg, Length: 16}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Peek, "peek").
		WithAliases("p").
		WithSynopsis("peek [-length n] <address>").
		WithDescription("read controller RAM and show it as a hex dump").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return peek(cfg, cc, args)
		})
}

func peek(cfg *PeekConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Peek.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: peek requires one address", cli.ErrUsage)
	}
	addr, err := argAddress("address", args[0])
	if err != nil {
		return err
	}
	client, err := cfg.client()
	if err != nil {
		return err
	}
	res, err := client.Read(context.Background(), addr, cfg.Length)
	if err != nil {
		return err
	}
	renderer.RenderDump(res)
	if res.Partial() {
		pterm.Warning.Printf("Partial read: %d of %d bytes arrived\n", len(res.Data), res.Requested)
	}
	return nil
}

type PokeConfig struct {
	*MainConfig
	Poke *cli.Command
}

func PokeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PokeConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Poke, "poke").
		WithSynopsis("poke <address> <value>").
		WithDescription("write one 32-bit word to controller RAM").
		WithRun(func(cc *cli.Context, args []string) error {
			return poke(cfg, cc, args)
		})
}

func poke(cfg *PokeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Poke.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: poke requires an address and a value", cli.ErrUsage)
	}
	addr, err := argAddress("address", args[0])
	if err != nil {
		return err
	}
	value, err := argAddress("value", args[1])
	if err != nil {
		return err
	}
	client, err := cfg.client()
	if err != nil {
		return err
	}
	if err := client.WriteWord(addr, value); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote 0x%08X to 0x%08X\n", value, addr)
	return nil
}
