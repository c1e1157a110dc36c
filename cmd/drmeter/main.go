// Command drmeter measures the Dynamic Range of one or more audio files.
// It is the thin CLI collaborator spec.md treats as external to the
// measurement core: parse flags, call into internal/pipeline, print the
// report. No batch statistics, no GUI, no progress bar.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/linuxmatters/drmeter/internal/cli"
	"github.com/linuxmatters/drmeter/internal/peakselect"
	"github.com/linuxmatters/drmeter/internal/pipeline"
	"github.com/linuxmatters/drmeter/internal/report"
)

// version is set via ldflags at build time.
// Local dev builds: "dev"
// Release builds: git tag (e.g. "0.1.0")
var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Version  bool     `short:"v" help:"Show version information"`
	Parallel bool     `help:"Decode through the ordered parallel decode stage"`
	Strategy string   `help:"Peak selection strategy: prefer-secondary, clipping-aware, always-primary, always-secondary" default:"prefer-secondary" enum:"prefer-secondary,clipping-aware,always-primary,always-secondary"`
	Files    []string `arg:"" name:"files" help:"Audio files to measure" type:"existingfile" optional:""`
}

func main() {
	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("drmeter"),
		kong.Description("Dynamic Range measurement for digital audio"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	if cliArgs.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	if len(cliArgs.Files) == 0 {
		cli.PrintError("No input files specified")
		ctx.PrintUsage(false)
		os.Exit(1)
	}

	opts := pipeline.DefaultOptions()
	opts.ParallelDecoding = cliArgs.Parallel
	opts.PeakStrategy = parseStrategy(cliArgs.Strategy)

	exitCode := 0
	for _, path := range cliArgs.Files {
		result, err := pipeline.Measure(path, opts)
		if err != nil {
			cli.PrintError(fmt.Sprintf("%s: %v", path, err))
			exitCode = 1
			continue
		}
		report.WriteTable(os.Stdout, path, result.DR)
		fmt.Println()
	}
	os.Exit(exitCode)
}

func parseStrategy(s string) peakselect.Strategy {
	switch s {
	case "clipping-aware":
		return peakselect.ClippingAware
	case "always-primary":
		return peakselect.AlwaysPrimary
	case "always-secondary":
		return peakselect.AlwaysSecondary
	default:
		return peakselect.PreferSecondary
	}
}
