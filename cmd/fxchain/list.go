package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/dudk/fxchain/chain"
	"github.com/dudk/fxchain/config"
	"github.com/dudk/fxchain/registry"
)

type listCommand struct {
	out       io.Writer
	pluginDir string
}

func (cmd *listCommand) Name() string {
	return "list"
}

func (cmd *listCommand) Help() string {
	return "Show the list of available units"
}

func (cmd *listCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.pluginDir, "plugin-dir", config.Default().PluginDir, "directory to scan for units")
}

func (cmd *listCommand) Run() error {
	reg, err := registry.New(cmd.pluginDir)
	if err != nil {
		return err
	}
	defer reg.Close()
	fmt.Fprintf(cmd.out, "Scan path: %s\n", reg.Dir())
	fmt.Fprintln(cmd.out, "Available units:")
	for _, d := range chain.Catalog(reg.Catalog()).Sorted() {
		fmt.Fprintf(cmd.out, "\nUnit: %s\n", d.Name)
		for _, p := range d.Parameters {
			fmt.Fprintf(cmd.out, "\tParameter: %s\n", p)
		}
	}
	return nil
}
