package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/scott-cotton/cli"

	"github.com/tosih/m21-livetune/pkg/compare"
	"github.com/tosih/m21-livetune/pkg/image"
	"github.com/tosih/m21-livetune/pkg/models"
	"github.com/tosih/m21-livetune/pkg/renderer"
)

type PatchConfig struct {
	*MainConfig
	Patch *cli.Command

	File   string `cli:"name=file desc='calibration image to edit'"`
	Backup bool   `cli:"name=backup desc='back up the image before editing'"`
}

func PatchCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PatchConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Patch, "patch").
		WithSynopsis("patch -file cal.bin <offset> <value>").
		WithDescription("replace one 32-bit word of a calibration image; a running tune session forwards it").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return patch(cfg, cc, args)
		})
}

func patch(cfg *PatchConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Patch.Parse(cc, args)
	if err != nil {
		return err
	}
	file := cfg.File
	if file == "" {
		file = cfg.Session.Tune.File
	}
	if file == "" {
		return fmt.Errorf("%w: -file is required", cli.ErrUsage)
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: patch requires an offset and a value", cli.ErrUsage)
	}
	offset, err := argAddress("offset", args[0])
	if err != nil {
		return err
	}
	value, err := argAddress("value", args[1])
	if err != nil {
		return err
	}
	if cfg.Backup {
		backup, err := image.Backup(file)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Backup created: %s\n", backup)
	}
	old, err := image.PatchWord(file, offset, value)
	if err != nil {
		return err
	}
	pterm.Success.Printf("+0x%04X: 0x%08X -> 0x%08X (%s)\n", offset, old, value, renderer.Cells(offset, 4))
	return nil
}

type MapsConfig struct {
	*MainConfig
	Maps *cli.Command

	Base string `cli:"name=base desc='RAM address the image is mirrored at' default=0x40000000"`
	File string `cli:"name=file desc='calibration image to render maps from'"`
	Name string `cli:"name=name desc='map to render, or all' default=all"`
	Mode string `cli:"name=mode desc='values, heatmap or symbols' default=values"`
}

func MapsCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &MapsConfig{MainConfig: mainCfg, Base: "0x40000000", Name: "all", Mode: renderer.ModeValues}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Maps, "maps").
		WithAliases("m").
		WithSynopsis("maps [-base addr] [-file cal.bin [-name map] [-mode values|heatmap|symbols]]").
		WithDescription("list the calibration maps, or render them from an image").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return maps(cfg, cc, args)
		})
}

func maps(cfg *MapsConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Maps.Parse(cc, args); err != nil {
		return err
	}
	base, err := argAddress("base", cfg.Base)
	if err != nil {
		return err
	}
	if cfg.File == "" {
		return renderer.ListAvailableMaps(base)
	}
	switch cfg.Mode {
	case renderer.ModeValues, renderer.ModeHeatmap, renderer.ModeSymbols:
	default:
		return fmt.Errorf("%w: unknown mode %q", cli.ErrUsage, cfg.Mode)
	}

	selected := models.Maps
	if cfg.Name != "all" {
		m, ok := models.Find(cfg.Name)
		if !ok {
			return fmt.Errorf("%w: unknown map %q", cli.ErrUsage, cfg.Name)
		}
		selected = []models.CalMap{m}
	}

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return err
	}
	pterm.DefaultHeader.WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightWhite)).
		Println("Motronic M2.1 - " + cfg.File)
	for i, m := range selected {
		if i > 0 {
			pterm.Println()
		}
		if err := renderer.RenderMap(m, data, cfg.Mode); err != nil {
			pterm.Error.Printf("Error reading %s: %v\n", m.Name, err)
		}
	}
	return nil
}

type CompareConfig struct {
	*MainConfig
	Compare *cli.Command
}

func CompareCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &CompareConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Compare, "compare").
		WithAliases("c", "diff").
		WithSynopsis("compare <before.bin> <after.bin>").
		WithDescription("show which maps differ between two calibration images").
		WithRun(func(cc *cli.Context, args []string) error {
			return compareImages(cfg, cc, args)
		})
}

func compareImages(cfg *CompareConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Compare.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: compare requires two images", cli.ErrUsage)
	}
	a, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	b, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return compare.Images(a, b).Render(args[0], args[1])
}
