package commands

import (
	"context"
	"strings"
	"time"

	"github.com/robalyx/reactor/internal/bot/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// AdminCommands returns maintenance commands that work against any storage driver.
func AdminCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "grant",
			Usage:     "Grant a subscription to a user",
			ArgsUsage: "USER_ID [DAYS]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "default-days",
					Value: 30,
					Usage: "Days granted when DAYS is omitted",
				},
			},
			Action: handleGrant(deps),
		},
		{
			Name:   "channels",
			Usage:  "List active managed channels",
			Action: handleChannels(deps),
		},
		{
			Name:  "purge",
			Usage: "Delete queued posts older than the retention",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "days",
					Value: 7,
					Usage: "Retention in days",
				},
				&cli.IntFlag{
					Name:  "batch-size",
					Value: 1000,
					Usage: "Rows deleted per statement",
				},
			},
			Action: handlePurge(deps),
		},
	}
}

// handleGrant handles the 'grant' command.
func handleGrant(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() == 0 {
			return ErrUserIDRequired
		}

		args, err := utils.ParseGrantArgs(strings.Join(c.Args().Slice(), " "), int(c.Int("default-days")))
		if err != nil {
			return err
		}

		until := time.Now().AddDate(0, 0, args.Days)
		if err := deps.DB.Actors().GrantSubscription(ctx, args.UserID, until); err != nil {
			return err
		}

		deps.Logger.Info("Granted subscription",
			zap.Int64("userID", args.UserID),
			zap.Time("until", until))

		return nil
	}
}

// handleChannels handles the 'channels' command.
func handleChannels(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		channels, err := deps.DB.Channels().ListActive(ctx)
		if err != nil {
			return err
		}

		for _, channel := range channels {
			deps.Logger.Info("Channel",
				zap.Int64("id", channel.ID),
				zap.String("title", channel.Title),
				zap.String("username", channel.Username),
				zap.Bool("autoReact", channel.AutoReact),
				zap.Int64("registeredBy", channel.RegisteredBy))
		}

		deps.Logger.Info("Active channels", zap.Int("count", len(channels)))
		return nil
	}
}

// handlePurge handles the 'purge' command.
func handlePurge(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cutoff := time.Now().AddDate(0, 0, -int(c.Int("days")))
		batchSize := int(c.Int("batch-size"))

		total := 0
		for {
			deleted, err := deps.DB.Queue().PurgeOlderThan(ctx, cutoff, batchSize)
			if err != nil {
				return err
			}

			total += deleted
			if deleted < batchSize {
				break
			}
		}

		deps.Logger.Info("Purged queued posts",
			zap.Int("count", total),
			zap.Time("cutoff", cutoff))

		return nil
	}
}
