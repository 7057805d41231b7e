package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/memeroyale/indexer/service/temporal"
)

func createRefreshScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-refresh-schedule",
		Usage: "Create or update the periodic wealth refresh schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   15 * time.Minute,
				Usage:   "How often to re-sample user wealth",
			},
		},
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			interval := c.Duration("interval")
			if err := client.UpsertRefreshSchedule(context.Background(), interval); err != nil {
				return err
			}

			fmt.Printf("Wealth refresh schedule set to every %v\n", interval)
			return nil
		},
	}
}

func deleteRefreshScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-refresh-schedule",
		Usage: "Delete the periodic wealth refresh schedule",
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteRefreshSchedule(context.Background()); err != nil {
				return err
			}

			fmt.Println("Wealth refresh schedule deleted")
			return nil
		},
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:      "backfill",
		Usage:     "Start a backfill crawl of a program's transaction history",
		ArgsUsage: "<program-address>",
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			if address == "" {
				address = os.Getenv("PROGRAM_ID")
			}
			if address == "" {
				return fmt.Errorf("program address is required (argument or PROGRAM_ID env var)")
			}

			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			workflowID, err := client.StartBackfill(context.Background(), address)
			if err != nil {
				return err
			}

			fmt.Printf("Backfill started: %s\n", workflowID)
			return nil
		},
	}
}

// getTemporalClient connects to Temporal using the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
