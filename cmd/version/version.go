package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dataforseo/mcp-gateway/pkg/version"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: fmt.Sprintf("Shows the gateway version (%s)", version.Print()),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Print name, version and commit as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.Bool("full") {
				fmt.Println(version.Print())
				return nil
			}
			byt, err := json.Marshal(map[string]string{
				"name":    version.Name,
				"version": version.Version,
				"commit":  version.Hash,
			})
			if err != nil {
				return err
			}
			fmt.Println(string(byt))
			return nil
		},
	}
}
