package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/semmidev/vaultkeeper/internal/adapter/database"
	"github.com/semmidev/vaultkeeper/internal/app"
	"github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/logger"
)

const shutdownTimeout = 30 * time.Second

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withApp builds the application, runs fn and shuts down afterwards.
func withApp(ctx context.Context, cmd *cli.Command, fn func(a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer func() {
		// ctx may already be cancelled by the signal that stopped us
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()

	return fn(a)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(a *app.App) error {
		return a.Run(ctx)
	})
}

func nowAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(a *app.App) error {
		job, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("backup job %s %s after %d retries\n", job.ID, job.State, job.RetryCount)
		return nil
	})
}

// The credential commands only need the database settings, so they skip the
// application and its storage and notifier setup.
func passfile(cmd *cli.Command) (*database.Passfile, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return database.NewPassfile(&cfg.Database), nil
}

func credentialsCreateAction(ctx context.Context, cmd *cli.Command) error {
	p, err := passfile(cmd)
	if err != nil {
		return err
	}
	if err := p.Create(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", p.Path())
	return nil
}

func credentialsCheckAction(ctx context.Context, cmd *cli.Command) error {
	p, err := passfile(cmd)
	if err != nil {
		return err
	}
	if err := p.Check(); err != nil {
		return err
	}
	fmt.Printf("%s is usable\n", p.Path())
	return nil
}

func credentialsRemoveAction(ctx context.Context, cmd *cli.Command) error {
	p, err := passfile(cmd)
	if err != nil {
		return err
	}
	if err := p.Remove(); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", p.Path())
	return nil
}

func bucketEnsureAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(a *app.App) error {
		a.EnsureBucket(ctx)
		return nil
	})
}

func bucketPruneAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(a *app.App) error {
		return a.Prune(ctx)
	})
}

func uploadAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("upload needs a file argument")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	target := cmd.String("target")
	if target == "" {
		target = cfg.Backup.Targets[0].Name
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Shutdown(context.Background())

	objectPath, err := a.Upload(ctx, target, path)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s to %s/%s\n", path, cfg.Storage.Bucket, objectPath)
	return nil
}

func gdriveAuthorizeAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.New(logger.Config{Level: "info"})
	if err != nil {
		return err
	}
	defer log.Close()

	addr := cmd.String("addr")
	server, err := app.NewDriveAuthServer(log, cmd.String("client-secret"), "http://"+addr+app.CallbackPath)
	if err != nil {
		return err
	}
	if err := server.Start(addr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Open this URL and grant access:\n\n  http://%s%s\n\n", addr, app.AuthorizePath)
	token, err := server.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("GDRIVE_REFRESH_TOKEN=%s\n", token.RefreshToken)
	return nil
}
