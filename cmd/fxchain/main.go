package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type cli struct {
	args []string
	out  io.Writer
}

type command interface {
	Name() string
	Help() string
	Run() error
	Register(*flag.FlagSet)
}

func (c *cli) run() int {
	cmdName, args := parseArgs(c.args)
	if cmdName == "" {
		printUsage(c.out)
		return errorExitCode
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}
		flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		flags.SetOutput(c.out)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			return errorExitCode
		}
		if err := cmd.Run(); err != nil {
			fmt.Fprintf(c.out, "Command failed: %v\n", err)
			return errorExitCode
		}
		return successExitCode
	}
	fmt.Fprintf(c.out, "Unknown command: %s\n\n", cmdName)
	printUsage(c.out)
	return errorExitCode
}

var (
	successExitCode = 0
	errorExitCode   = 1
	commands        = []command{
		&listCommand{out: os.Stdout},
		&runCommand{},
		&processCommand{},
	}
)

func main() {
	c := cli{
		args: os.Args,
		out:  os.Stdout,
	}
	os.Exit(c.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Fxchain is a real-time effects chain host")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: fxchain <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(out, "\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}

// stringList is a flag with semicolon separated values. Repeated flags
// are appended.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ";")
}

func (l *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ";") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}
