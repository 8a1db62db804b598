package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/discovery"
)

// targetFlags are the shared instance-selection flags of the client-side
// subcommands. Precedence: --url, then --port, then --target via the
// registry, then the registry's sole live instance.
type targetFlags struct {
	url    string
	port   int
	target string
}

// targetCLIFlags builds the instance-selection flags shared by the
// client-side subcommands.
func targetCLIFlags(tf *targetFlags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Usage:       "full base URL of the instance",
			Destination: &tf.url,
		},
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "port of the instance on localhost",
			Destination: &tf.port,
		},
		&cli.StringFlag{
			Name:        "target",
			Aliases:     []string{"t"},
			Usage:       "instance id prefix or project name from the registry",
			Destination: &tf.target,
		},
	}
}

// resolveBaseURL turns the target flags into a base URL, consulting the
// shared registry when neither url nor port pins the instance.
func (tf *targetFlags) resolveBaseURL(log zerolog.Logger, registryPath string, staleAfter time.Duration) (string, error) {
	if tf.url != "" {
		return strings.TrimRight(tf.url, "/"), nil
	}
	if tf.port != 0 {
		return "http://127.0.0.1:" + strconv.Itoa(tf.port), nil
	}

	reg := discovery.NewRegistry(log, registryPath, staleAfter)
	entries, err := reg.List()
	if err != nil {
		return "", fmt.Errorf("read instance registry: %w", err)
	}

	if tf.target != "" {
		for _, e := range entries {
			if strings.HasPrefix(e.InstanceID, tf.target) || e.ProjectName == tf.target {
				return "http://127.0.0.1:" + strconv.Itoa(e.Port), nil
			}
		}
		return "", fmt.Errorf("no live instance matches %q", tf.target)
	}

	switch len(entries) {
	case 0:
		return "", fmt.Errorf("no live instances registered; is a daemon running?")
	case 1:
		return "http://127.0.0.1:" + strconv.Itoa(entries[0].Port), nil
	default:
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = fmt.Sprintf("%s (%s)", e.ProjectName, e.InstanceID)
		}
		return "", fmt.Errorf("multiple live instances, pick one with --target: %s", strings.Join(names, ", "))
	}
}

// client is a thin HTTP client for one resolved instance.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// call invokes one command. Transport failures surface as errors; handler
// failures come back inside the Result.
func (c *client) call(name string, args json.RawMessage) (command.Result, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	resp, err := c.http.Post(c.baseURL+"/command/"+name, "application/json", bytes.NewReader(args))
	if err != nil {
		return command.Result{}, fmt.Errorf("reach instance: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var res command.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return command.Result{}, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("command %q rejected (HTTP %d): %s", name, resp.StatusCode, res.Error)
	}
	return res, nil
}

// getJSON fetches one of the GET endpoints into out.
func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("reach instance: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
