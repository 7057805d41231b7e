package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/memeroyale/indexer/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Talk to the indexer's HTTP API",
		Subcommands: []*cli.Command{
			pushCommand(),
			healthCommand(),
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Push externally observed transaction signatures for ingestion",
		ArgsUsage: "<signature> [signature ...]",
		Description: `Submit transaction signatures to the indexer's push endpoint. The
server confirms each signature on chain before ingesting it, so pushing
a signature that never lands is reported, not fatal.

A comma-separated argument is treated as one transaction's signature
list; the first entry is the canonical id.`,
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one signature is required")
			}

			var txs []client.Transaction
			for _, arg := range c.Args().Slice() {
				txs = append(txs, client.Transaction{Signatures: strings.Split(arg, ",")})
			}

			cl, err := getClient(c)
			if err != nil {
				return err
			}

			result, err := cl.PushTransactions(context.Background(), txs)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Println(result.Message)
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the indexer server's health endpoint",
		Action: func(c *cli.Context) error {
			cl, err := getClient(c)
			if err != nil {
				return err
			}

			if err := cl.Health(context.Background()); err != nil {
				return err
			}

			fmt.Println("OK")
			return nil
		},
	}
}

// getClient builds an API client from the global flags.
func getClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(serverURL, c.String("token"), nil, logger), nil
}
