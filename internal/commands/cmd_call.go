package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/tether/pkg/iojson"
)

type CallCmd struct {
	flags *Flags

	targets  targetFlags
	argsFile string
}

// NewCallCmd creates a new call command.
func NewCallCmd(flags *Flags) *CallCmd {
	return &CallCmd{flags: flags}
}

// Register adds the call command to the application.
func (cmd *CallCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "call",
		Usage:     "Invoke one command on a running instance",
		UsageText: "tether call <command> [json-args]",
		Description: `Invokes a named command and prints the result envelope.

Arguments can be provided as:
- An inline JSON argument after the command name
- From a file with -f/--file
- From stdin if piped

Examples:
  tether call ping
  tether call set_property '{"id":"obj-1","key":"speed","value":2}'
  tether call set_properties_batch -f items.json
  echo '{"label":"refactor"}' | tether call task_start`,
		Flags: append(targetCLIFlags(&cmd.targets),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to JSON arguments file",
				Destination: &cmd.argsFile,
			},
		),
		Action: cmd.run,
	})

	return app
}

func (cmd *CallCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("missing command name; run 'tether manifest' to list commands")
	}
	name := c.Args().First()

	args, err := cmd.readArgs(c)
	if err != nil {
		return err
	}

	baseURL, err := cmd.targets.resolveBaseURL(log.Logger, cmd.flags.Config.Registry.Path, cmd.flags.Config.Registry.StaleAfter)
	if err != nil {
		return err
	}

	res, err := newClient(baseURL).call(name, args)
	if err != nil {
		return err
	}

	if err := iojson.Write(res); err != nil {
		return err
	}
	if res.Status != "success" {
		return fmt.Errorf("command %q failed: %s", name, res.Error)
	}
	return nil
}

// readArgs resolves the argument payload: file flag, inline argument, then
// piped stdin, defaulting to an empty object.
func (cmd *CallCmd) readArgs(c *cli.Command) (json.RawMessage, error) {
	if cmd.argsFile != "" {
		data, err := os.ReadFile(cmd.argsFile)
		if err != nil {
			return nil, fmt.Errorf("read args file: %w", err)
		}
		return validateArgs(data)
	}

	if c.Args().Len() > 1 {
		return validateArgs([]byte(c.Args().Get(1)))
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) > 0 {
			return validateArgs(data)
		}
	}

	return json.RawMessage("{}"), nil
}

// validateArgs rejects malformed JSON client-side, before it costs a round
// trip.
func validateArgs(data []byte) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return json.RawMessage(data), nil
}
