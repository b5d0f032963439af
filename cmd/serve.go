package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mergebot/internal/bot"
	"github.com/mergebot/internal/config"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook server alongside the poll loop",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	log := newLogger(c.Bool("verbose"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cfg, log)
	if err != nil {
		return err
	}

	runner := bot.NewRunner(ctx, cfg.Scheduler.Workers, log)
	poller := env.newPoller(runner)
	server := bot.NewServer(cfg.Webhook.Port, cfg.Webhook.Secret, env.forge, runner, env.newItem, log)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Int("port", cfg.Webhook.Port).Msg("starting webhook server")
		return server.Start(ctx)
	})
	group.Go(func() error {
		err := poller.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return runner.Wait()
}
