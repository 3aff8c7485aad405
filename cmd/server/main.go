package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"community-events/internal/auth"
	"community-events/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "eventsd",
		Usage: "Serve community event lists to posts over gRPC and HTTP.",
		Commands: []*cli.Command{
			serveCommand(),
			tokenCommand(),
			moderatorsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "eventsd:", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gRPC and HTTP servers.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(c.Context, cfg)
		},
	}
}

// tokenCommand mints a token the way the host platform would, for local
// testing.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print a signed token for a username.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "username to sign"},
			&cli.DurationFlag{Name: "ttl", Value: auth.DefaultTTL, Usage: "token lifetime"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.MakeToken(c.String("user"), cfg.JWTSecret, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}

func moderatorsCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "community", Aliases: []string{"c"}, Usage: "community name, defaults to COMMUNITY"},
		&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true},
	}
	run := func(add bool) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			community := c.String("community")
			if community == "" {
				community = cfg.Community
			}
			return editModerator(c.Context, cfg, community, c.String("user"), add)
		}
	}
	return &cli.Command{
		Name:  "moderators",
		Usage: "Manage moderators kept in postgres.",
		Subcommands: []*cli.Command{
			{Name: "add", Usage: "Grant moderator rights.", Flags: flags, Action: run(true)},
			{Name: "remove", Usage: "Revoke moderator rights.", Flags: flags, Action: run(false)},
		},
	}
}
