package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "vaultkeeper",
		Usage: "scheduled PostgreSQL cluster backups to object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file (optional)",
				Sources: cli.EnvVars("VAULTKEEPER_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to an env file loaded before the environment",
				Value: ".env",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "schedule backups and process them until interrupted",
				Action: serveAction,
			},
			{
				Name:   "now",
				Usage:  "run one backup and wait for it, retries included",
				Action: nowAction,
			},
			{
				Name:  "credentials",
				Usage: "manage the password file used by the dump tools",
				Commands: []*cli.Command{
					{Name: "create", Usage: "write the password file", Action: credentialsCreateAction},
					{Name: "check", Usage: "verify the password file exists with mode 0600", Action: credentialsCheckAction},
					{Name: "remove", Usage: "delete the password file", Action: credentialsRemoveAction},
				},
			},
			{
				Name:  "bucket",
				Usage: "object storage bucket commands",
				Commands: []*cli.Command{
					{Name: "ensure", Usage: "create the bucket when it is missing", Action: bucketEnsureAction},
					{Name: "prune", Usage: "delete backups older than the retention window", Action: bucketPruneAction},
				},
			},
			{
				Name:      "upload",
				Usage:     "upload one local file next to the scheduled backups",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "target",
						Usage: "target name the object is scoped under (defaults to the first target)",
					},
				},
				Action: uploadAction,
			},
			{
				Name:  "gdrive",
				Usage: "Google Drive helpers",
				Commands: []*cli.Command{
					{
						Name:  "authorize",
						Usage: "obtain a refresh token for storage.refresh_token",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "client-secret",
								Usage:    "OAuth client secret JSON downloaded from the Google console",
								Sources:  cli.EnvVars("GDRIVE_CLIENT_SECRET_FILE"),
								Required: true,
							},
							&cli.StringFlag{
								Name:  "addr",
								Usage: "listen address for the OAuth callback",
								Value: "localhost:8085",
							},
						},
						Action: gdriveAuthorizeAction,
					},
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}
