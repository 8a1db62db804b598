package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tether/pkg/iojson"
)

type ManifestCmd struct {
	flags *Flags

	targets targetFlags
}

// NewManifestCmd creates a new manifest command.
func NewManifestCmd(flags *Flags) *ManifestCmd {
	return &ManifestCmd{flags: flags}
}

// Register adds the manifest command to the application.
func (cmd *ManifestCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "manifest",
		Usage:  "Print the command manifest of a running instance",
		Flags:  targetCLIFlags(&cmd.targets),
		Action: cmd.run,
	})

	return app
}

func (cmd *ManifestCmd) run(ctx context.Context, c *cli.Command) error {
	baseURL, err := cmd.targets.resolveBaseURL(log.Logger, cmd.flags.Config.Registry.Path, cmd.flags.Config.Registry.StaleAfter)
	if err != nil {
		return err
	}

	var out map[string]any
	if err := newClient(baseURL).getJSON("/manifest", &out); err != nil {
		return err
	}
	return iojson.Write(out)
}
