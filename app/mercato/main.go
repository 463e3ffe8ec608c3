package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"

	"github.com/mercato/go-mercato/build"
	"github.com/mercato/go-mercato/config"
	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/repo"
)

var logger = logging.Logger("main")

const defaultRepoDir = "~/.mercato"

func main() {
	app := &cli.App{
		Name:    "mercato",
		Usage:   "decentralized offer coordination node",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Usage:   "repo directory",
				EnvVars: []string{"MERCATO_PATH"},
				Value:   defaultRepoDir,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
		},
		Before: func(cctx *cli.Context) error {
			if lvl := cctx.String("log-level"); lvl != "" {
				return logging.SetLogLevel(lvl)
			}
			return nil
		},
		Commands: []*cli.Command{
			initCmd,
			daemonCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "initialize a mercato repo",
	Action: func(cctx *cli.Context) error {
		dir, err := homedir.Expand(cctx.String("repo"))
		if err != nil {
			return err
		}

		exists, err := repo.Exists(dir)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("repo at %s already initialized", dir)
		}

		r, err := repo.NewFSRepo(dir, config.NewDefaultConfig())
		if err != nil {
			return err
		}
		defer r.Close()

		// create the network identity up front so the node address is
		// known before the first start
		if _, err := r.PeerKey(); err != nil {
			return err
		}

		logger.Infow("repo initialized", "path", dir)
		return nil
	},
}
