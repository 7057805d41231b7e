package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/memeroyale/indexer/service/db"
)

func listEventsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-events",
		Usage:   "List recently ingested program events",
		Aliases: []string{"events"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Filter by event type (trade, convert, graduate, ...)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   50,
				Usage:   "Maximum number of events to show",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			events, err := store.ListEvents(context.Background(), c.String("type"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(events)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tPOS\tTYPE\tTIME\tSIGNERS")
			for _, event := range events {
				ts := time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n",
					event.Signature,
					event.Position,
					event.Type,
					ts,
					len(event.Signers),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d events\n", len(events))
			return nil
		},
	}
}

func listUsersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-users",
		Usage:   "List tracked users and their wealth snapshots",
		Aliases: []string{"users"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			users, err := store.GetUsers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(users)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tWEALTH (USDC)\tTOKENS")
			for _, user := range users {
				fmt.Fprintf(w, "%s\t%s\t%d\n", user.Address, user.Wealth, len(user.Tokens))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d users\n", len(users))
			return nil
		},
	}
}

func listMemesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-memes",
		Usage:   "List meme token mints created through the program",
		Aliases: []string{"memes"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			memes, err := store.ListMemes(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list memes: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(memes)
			}

			for _, mint := range memes {
				fmt.Println(mint)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d memes\n", len(memes))
			return nil
		},
	}
}

func getMintCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-mint",
		Usage:     "Get cached mint details",
		ArgsUsage: "<mint-address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			mint, err := store.GetMint(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get mint: %w", err)
			}
			if mint == nil {
				return fmt.Errorf("mint %s not found", address)
			}

			if c.Bool("json") {
				return outputJSON(mint)
			}

			fmt.Printf("Mint:             %s\n", mint.Address)
			fmt.Printf("Supply:           %s\n", mint.Supply)
			fmt.Printf("Decimals:         %d\n", mint.Decimals)
			fmt.Printf("Initialized:      %t\n", mint.IsInitialized)
			fmt.Printf("Mint Authority:   %s\n", formatOptionalAddress(mint.MintAuthority))
			fmt.Printf("Freeze Authority: %s\n", formatOptionalAddress(mint.FreezeAuthority))
			return nil
		},
	}
}

// getStore connects to the database using the global flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptionalAddress(addr string) string {
	if addr != "" {
		return addr
	}
	return "(none)"
}
