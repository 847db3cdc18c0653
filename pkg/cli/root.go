package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// ErrDenied is returned by the check commands when access is refused,
// so that callers can map it to a distinct exit status.
var ErrDenied = errors.New("access denied")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// env is shared by every subcommand
type env struct {
	out    io.Writer
	logger *logrus.Logger
	getenv func(string) string
}

func (e *env) envOr(key, fallback string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewRootCommand creates the root command. Results are written to out as
// JSON; diagnostics go to logger.
func NewRootCommand(out io.Writer, logger *logrus.Logger) *Command {
	e := &env{out: out, logger: logger, getenv: os.Getenv}

	root := &Command{
		Name:        "rampartctl",
		Description: "rampartctl - administer and query a rampart authorization service",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("rampartctl", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(e),
		newSeedCommand(e),
		newCheckCommand(e),
		newCheckInCommand(e),
		newEffectiveCommand(e),
		newGrantCommand(e),
		newRevokeCommand(e),
		newHierarchyCommand(e),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage(os.Stdout)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) error {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.out)
	return fs
}
