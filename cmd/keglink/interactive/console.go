// Package interactive provides the operator console of the keg server.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/store"
	"github.com/keglink/keglink-go/pkg/transport"
)

// Service is the part of the keg server the console drives.
type Service interface {
	Connections() []transport.ConnInfo
	Record(ctx context.Context, deviceID string) (*store.Record, error)
	Send(ctx context.Context, cmd command.Command) error
	ReconcileNow(ctx context.Context) (int, error)
}

// Console is a readline-based operator shell.
type Console struct {
	rl  *readline.Instance
	out io.Writer
}

// New creates a console on the terminal.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "keglink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the prompt. Use it for log
// output.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until the user quits or ctx ends. cancel is called on
// quit.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, svc Service) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, svc, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, svc Service, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "devices", "d":
		c.cmdDevices(svc)
	case "show", "s":
		c.cmdShow(ctx, svc, args)
	case "send":
		c.cmdSend(ctx, svc, args)
	case "commands":
		c.cmdCommands()
	case "reconcile":
		c.cmdReconcile(ctx, svc)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Keg Server Commands:
  devices                          - List live connections
  show <device>                    - Show stored telemetry of a device
  send <device> <command> <value>  - Send a command to a connected device
  commands                         - List supported commands
  reconcile                        - Push diverging user preferences now
  help                             - Show this help
  quit                             - Stop the server`)
}

func (c *Console) cmdDevices(svc Service) {
	conns := svc.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No connections")
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSTATE\tREMOTE\tCONNECTED\tLAST SEEN")
	for _, ci := range conns {
		id := ci.DeviceID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s ago\n",
			id, ci.State, ci.RemoteAddr,
			ci.AcceptedAt.Format(time.TimeOnly),
			time.Since(ci.LastSeen).Truncate(time.Second))
	}
	tw.Flush()
}

func (c *Console) cmdShow(ctx context.Context, svc Service, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: show <device>")
		return
	}
	rec, err := svc.Record(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(c.out, "No telemetry for %s\n", args[0])
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	fields := make([]string, 0, len(rec.Fields))
	for f := range rec.Fields {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\n", f, rec.Fields[f])
	}
	tw.Flush()
}

func (c *Console) cmdSend(ctx context.Context, svc Service, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "Usage: send <device> <command> <value>")
		return
	}
	cmd := command.Command{DeviceID: args[0], Name: keg.CommandName(args[1]), Value: args[2]}
	if err := svc.Send(ctx, cmd); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent %s\n", cmd)
}

func (c *Console) cmdCommands() {
	names := keg.CommandNames()
	slices.Sort(names)
	for _, name := range names {
		spec, _ := keg.LookupCommand(name)
		fmt.Fprintf(c.out, "  %-22s pin V%s\n", name, spec.Pin)
	}
}

func (c *Console) cmdReconcile(ctx context.Context, svc Service) {
	n, err := svc.ReconcileNow(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	fmt.Fprintf(c.out, "%d command(s) sent\n", n)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("devices"),
		readline.PcItem("show"),
		readline.PcItem("send"),
		readline.PcItem("commands"),
		readline.PcItem("reconcile"),
		readline.PcItem("quit"),
	)
}
