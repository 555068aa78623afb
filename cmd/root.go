package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dataforseo/mcp-gateway/cmd/serve"
	"github.com/dataforseo/mcp-gateway/cmd/version"
	gwversion "github.com/dataforseo/mcp-gateway/pkg/version"
	isatty "github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

var (
	logLevels   = []string{"trace", "debug", "info", "warn", "error"}
	logHandlers = []string{"json", "text", "dev"}
)

// oneOf accepts the empty string, which leaves the logger default in place.
func oneOf(name string, allowed []string) func(string) error {
	return func(s string) error {
		if s == "" || slices.Contains(allowed, strings.ToLower(s)) {
			return nil
		}
		return fmt.Errorf("invalid %s %q, expected one of: %s", name, s, strings.Join(allowed, ", "))
	}
}

// logFlags are available on every command.  The logger itself reads LOG_LEVEL and
// LOG_HANDLER, so the flags resolve into those variables before any command runs.
func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      "log-level",
			Aliases:   []string{"l"},
			Value:     "info",
			Usage:     "Log level.  One of: " + strings.Join(logLevels, ", "),
			Sources:   cli.EnvVars("LOG_LEVEL"),
			Validator: oneOf("log level", logLevels),
		},
		&cli.StringFlag{
			Name:      "log-handler",
			Usage:     "Log format.  One of: " + strings.Join(logHandlers, ", ") + ".  Defaults to json when stdout is not a terminal.",
			Sources:   cli.EnvVars("LOG_HANDLER"),
			Validator: oneOf("log handler", logHandlers),
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Shorthand for --log-handler=json.",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Shorthand for --log-level=debug, unless a level is given.",
		},
	}
}

// configureLogging exports the resolved log settings for the logger.  An explicit
// --log-handler wins over --json, which wins over the terminal check.
func configureLogging(tty bool) cli.BeforeFunc {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		handler := strings.ToLower(cmd.String("log-handler"))
		switch {
		case cmd.IsSet("log-handler") && handler != "":
		case cmd.Bool("json"), !tty:
			handler = "json"
		default:
			handler = "dev"
		}

		level := strings.ToLower(cmd.String("log-level"))
		if !cmd.IsSet("log-level") && cmd.Bool("verbose") {
			level = "debug"
		}
		if level == "" {
			level = "info"
		}

		if err := os.Setenv("LOG_HANDLER", handler); err != nil {
			return ctx, err
		}
		return ctx, os.Setenv("LOG_LEVEL", level)
	}
}

func newApp(tty bool) *cli.Command {
	return &cli.Command{
		Name:    "mcp-gateway",
		Usage:   "Session gateway exposing DataForSEO tools to MCP clients",
		Version: gwversion.Print(),
		Description: strings.Join([]string{
			"Serves the enabled DataForSEO tool modules over two transports:",
			"  streamable HTTP on /mcp, with resumable event streams",
			"  HTTP+SSE on /sse, with messages posted to /messages",
			"",
			"Credentials come from each request's Basic auth header, falling back to",
			"DATAFORSEO_USERNAME and DATAFORSEO_PASSWORD.",
		}, "\n"),
		Before: configureLogging(tty),
		Flags:  logFlags(),
		Commands: []*cli.Command{
			serve.Command(),
			version.Command(),
		},
	}
}

func execute() {
	app := newApp(isatty.IsTerminal(os.Stdout.Fd()))
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
