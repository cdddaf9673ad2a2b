package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/rs/zerolog"

	"github.com/lox/egta/cmd/egta/shared"
)

// version is set by ldflags during build
var version = "dev"

// Globals are the flags shared by every subcommand.
type Globals struct {
	Debug   bool `kong:"help='Enable debug logging'"`
	LogJSON bool `kong:"name='log-json',help='Write structured JSON logs'"`
	NoColor bool `kong:"name='no-color',help='Disable colored output'"`
}

func (g *Globals) logger() zerolog.Logger {
	return shared.SetupLogger(g.Debug, g.LogJSON)
}

func (g *Globals) progress() *log.Logger {
	return shared.SetupProgress(os.Stderr, g.NoColor)
}

type CLI struct {
	Globals

	Version     kong.VersionFlag `short:"v" help:"Show version"`
	Run         RunCmd           `cmd:"" help:"Run the double-oracle loop of a configuration"`
	Hado        HadoCmd          `cmd:"" help:"Run the loop with annealed heuristic responses"`
	Solve       SolveCmd         `cmd:"" help:"Solve a game file and print its equilibrium"`
	Validate    ValidateCmd      `cmd:"" help:"Check game files and run configurations"`
	Merge       MergeCmd         `cmd:"" help:"Union game files into one"`
	GetN        GetNCmd          `cmd:"get-n" help:"Print the annealing attempts needed for a confidence level"`
	GroundTruth GroundTruthCmd   `cmd:"ground-truth" help:"Estimate how often annealing finds a beneficial deviation"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("egta"),
		kong.Description("Empirical game-theoretic analysis by double oracle"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
