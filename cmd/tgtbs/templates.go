package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/ehrlich-b/go-tgtbs"
	"github.com/ehrlich-b/go-tgtbs/internal/config"
)

// Templates implements subcommands.Command for the "templates" command.
type Templates struct{}

// Name implements subcommands.Command.Name.
func (*Templates) Name() string {
	return "templates"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Templates) Synopsis() string {
	return "list registered backing-store templates"
}

// Usage implements subcommands.Command.Usage.
func (*Templates) Usage() string {
	return "templates - list registered backing-store templates in lookup order\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Templates) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Templates) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg := args[0].(*config.Config)
	listTemplates(os.Stdout, newRegistry(cfg), cfg.Device.Template)
	return subcommands.ExitSuccess
}

func listTemplates(w io.Writer, reg *tgtbs.Registry, current string) {
	for _, t := range reg.Templates() {
		mark := " "
		if t.Name() == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\n", mark, t.Name())
	}
}
