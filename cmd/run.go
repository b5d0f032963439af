package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mergebot/internal/bot"
	"github.com/mergebot/internal/config"
)

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process configured repositories",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single poll round and exit",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output",
			},
		},
		Action: runRun,
	}
}

func runRun(c *cli.Context) error {
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

	if c.Bool("once") {
		if err := poller.Round(ctx); err != nil {
			return err
		}
		return runner.Wait()
	}

	log.Info().Int("workers", cfg.Scheduler.Workers).Msg("starting poll loop")
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return runner.Wait()
}
