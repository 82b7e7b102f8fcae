package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/app"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
)

// ErrUsage marks a malformed command line. The usage text has already been
// written when it is returned.
var ErrUsage = errors.New("invalid usage")

const notSignedIn = "Not signed in. Run: robotask login -username NAME"

// PasswordEnv is read when -password is omitted.
const PasswordEnv = "ROBOTASK_PASSWORD"

// CommandError carries the single line shown to the user for a failed
// action.
type CommandError struct {
	Message string
	Err     error
}

func (e *CommandError) Error() string { return e.Message }

func (e *CommandError) Unwrap() error { return e.Err }

func failure(action string, err error) error {
	return &CommandError{Message: appErrors.UserMessage(action, err), Err: err}
}

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, args []string) error
}

// CLI runs one robotask subcommand against the wired application.
type CLI struct {
	app      *app.App
	out      io.Writer
	now      func() time.Time
	getenv   func(string) string
	commands map[string]command
}

// New constructs a CLI writing command output to out.
func New(a *app.App, out io.Writer, getenv func(string) string) *CLI {
	c := &CLI{app: a, out: out, now: time.Now, getenv: getenv}
	c.commands = map[string]command{
		"login":       {"login -username NAME [-password PASS]", "sign in and remember the session", c.login},
		"logout":      {"logout", "forget the stored session", c.logout},
		"register":    {"register -email E -username NAME -password PASS -confirm PASS [-admin]", "create an account", c.register},
		"whoami":      {"whoami", "show the signed-in account", c.whoami},
		"view":        {"view [-refresh=false]", "show the dashboard for the current role", c.view},
		"tasks":       {"tasks [-refresh=false]", "list tasks", c.tasks},
		"toggle":      {"toggle [-notes TEXT] TASK-ID", "flip completion of one of your tasks", c.toggle},
		"task":        {"task TASK-ID", "show a task with its submissions (admin)", c.task},
		"create-task": {"create-task -title T -description D -image FILE [-due DATE]", "create a task (admin)", c.createTask},
		"stats":       {"stats [overview|tasks|students]", "show completion statistics (admin)", c.stats},
		"export":      {"export -format csv|pdf [-out PATH]", "export statistics to a file (admin)", c.export},
	}
	return c
}

// Run restores the stored session and executes args[0].
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.Usage()
		return ErrUsage
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		c.Usage()
		return nil
	}
	cmd, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q\n\n", name)
		c.Usage()
		return ErrUsage
	}

	if _, err := c.app.Auth.RestoreSession(ctx); err != nil {
		c.app.Logger.Warn("stored session not restored", zap.Error(err))
	}
	if err := cmd.run(ctx, args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

// Usage prints the command summary.
func (c *CLI) Usage() {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(c.out, "usage: robotask <command> [flags]")
	fmt.Fprintln(c.out)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(c.out, "  %-60s %s\n", cmd.usage, cmd.summary)
	}
}

func (c *CLI) requireSession() error {
	if c.app.Auth.Session() == nil {
		return &CommandError{Message: notSignedIn}
	}
	return nil
}

func (c *CLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	fs.Usage = func() {
		fmt.Fprintf(c.out, "usage: robotask %s\n", c.commands[name].usage)
		fs.PrintDefaults()
	}
	return fs
}

func (c *CLI) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return ErrUsage
	}
	return nil
}
