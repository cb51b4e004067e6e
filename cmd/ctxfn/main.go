package main

import (
	"os"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/deepnoodle-ai/wonton/color"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := cli.New("ctxfn").
		Description("Run assembled functions against caller-supplied namespaces").
		Version(version).
		AddCompletionCommand()

	// Global flags
	app.GlobalFlags(
		cli.String("code", "c").Help("Assembly listing to process"),
		cli.Bool("stdin", "").Help("Read the listing from stdin"),
		cli.Bool("verbose", "v").Help("Log processing stages to stderr"),
		cli.Bool("no-color", "").Env("NO_COLOR").Help("Disable colored output"),
	)

	// Root command: assemble, wrap and call a function
	app.Main().
		Args("file?").
		Flags(
			cli.String("args", "a").Help("Comma-separated call arguments"),
			cli.String("output", "o").Enum("json", "text").Help("Output format"),
		).
		Run(runHandler)

	// Version command with JSON support
	app.Command("version").
		Description("Print version information").
		Flags(
			cli.String("output", "o").Enum("json", "text").Help("Output format"),
		).
		Run(versionHandler)

	// Disassemble command
	app.Command("dis").
		Description("Disassemble an assembly listing").
		Args("file?").
		Flags(
			cli.Bool("rewritten", "r").Help("Disassemble the context-rewritten form"),
		).
		Run(disHandler)

	// Rewrite command
	app.Command("rewrite").
		Description("Show the context rewrite of a function").
		Args("file?").
		Run(rewriteHandler)

	// Conformance command
	app.Command("check").
		Description("Validate the namespace implementation against the mapping contract").
		Run(checkHandler)

	if err := app.Execute(); err != nil {
		if cli.IsHelpRequested(err) {
			return
		}
		printError(err.Error())
		os.Exit(cli.GetExitCode(err))
	}
}

func printError(msg string) {
	if color.ShouldColorize(os.Stderr) {
		msg = color.Red.Apply(msg)
	}
	os.Stderr.WriteString(msg + "\n")
}
