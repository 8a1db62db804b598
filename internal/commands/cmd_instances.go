package commands

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tether/internal/core/discovery"
	"github.com/colonyops/tether/pkg/iojson"
)

type InstancesCmd struct {
	flags *Flags

	probe bool
}

// NewInstancesCmd creates a new instances command.
func NewInstancesCmd(flags *Flags) *InstancesCmd {
	return &InstancesCmd{flags: flags}
}

// Register adds the instances command to the application.
func (cmd *InstancesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "instances",
		Usage: "List live instances from the shared registry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "probe",
				Usage:       "also hit each instance's /health endpoint",
				Destination: &cmd.probe,
			},
		},
		Action: cmd.run,
	})

	return app
}

type instanceRow struct {
	discovery.Entry
	Reachable *bool `json:"reachable,omitempty"`
}

func (cmd *InstancesCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	reg := discovery.NewRegistry(log.Logger, cfg.Registry.Path, cfg.Registry.StaleAfter)
	entries, err := reg.List()
	if err != nil {
		return err
	}

	rows := make([]instanceRow, 0, len(entries))
	for _, e := range entries {
		row := instanceRow{Entry: e}
		if cmd.probe {
			row.Reachable = probeHealth(e.Port)
		}
		rows = append(rows, row)
	}

	return iojson.Write(map[string]any{
		"instances": rows,
		"count":     len(rows),
	})
}

func probeHealth(port int) *bool {
	cl := newClient("http://127.0.0.1:" + strconv.Itoa(port))
	cl.http.Timeout = 2 * time.Second

	var out map[string]any
	ok := cl.getJSON("/health", &out) == nil
	return &ok
}
