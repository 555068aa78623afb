package serve

import (
	"github.com/urfave/cli/v3"
)

const DefaultPort = "3000"

func Command() *cli.Command {
	cmd := &cli.Command{
		Name:        "serve",
		Usage:       "Run the MCP gateway.",
		UsageText:   "mcp-gateway serve [options]",
		Description: "Example: DATAFORSEO_USERNAME=login DATAFORSEO_PASSWORD=secret mcp-gateway serve",
		Action:      action,

		Flags: []cli.Flag{
			// Base flags
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a gateway configuration file",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to listen on",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   DefaultPort,
				Usage:   "Port to listen on",
			},

			// Upstream flags
			&cli.StringFlag{
				Name:  "username",
				Usage: "Default DataForSEO username, used when a request sends no credentials",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "Default DataForSEO password, used when a request sends no credentials",
			},
			&cli.StringFlag{
				Name:  "enabled-modules",
				Usage: "Comma separated list of tool modules to serve.  Serves every module when empty.",
			},
			&cli.BoolFlag{
				Name:  "full-response",
				Usage: "Return full upstream responses instead of the compact format",
			},
			&cli.IntFlag{
				Name:  "http-timeout",
				Usage: "Upstream request timeout in milliseconds",
			},

			// Transport flags
			&cli.StringFlag{
				Name:  "redis-uri",
				Usage: "Redis URI for the event replay store.  Events are kept in memory when unset.",
			},
			&cli.StringSliceFlag{
				Name:  "allowed-origin",
				Usage: "Origins allowed by CORS.  Allows every origin when unset.",
			},
		},
	}

	return cmd
}
