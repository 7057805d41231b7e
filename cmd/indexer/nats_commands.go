package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	"github.com/memeroyale/indexer/service/decode"
	natspkg "github.com/memeroyale/indexer/service/nats"
)

// subscribeCommand tails decoded program events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Tail decoded program events",
		ArgsUsage: "[event_type]",
		Description: `Subscribe to decoded events published to NATS JetStream.

Events are published to the subject events.{type}; passing an event type
subscribes to that type only, otherwise all events are streamed. Events
can additionally be filtered with jq expressions evaluated against the
full event JSON.

Example:
  indexer nats subscribe trade --jq '.data.buy == true' --json`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "indexer-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = "events." + c.Args().First()
			}

			jqFilters := c.StringSlice("must-jq")
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			return streamEvents(c.String("nats-url"), subject, c.Bool("durable"),
				c.String("consumer-name"), compiledJQFilters, c.Bool("json"))
		},
	}
}

func streamEvents(natsURL, subject string, durable bool, consumerName string, filters []*gojq.Code, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		cfg.Durable = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Subscribed to %s (ctrl-c to stop)\n\n", subject)
	}

	iter, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("failed to start message iterator: %w", err)
	}
	defer iter.Stop()

	// Stop the iterator on interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		iter.Stop()
		cancel()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("message iterator failed: %w", err)
		}

		var event decode.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "skipping undecodable message: %v\n", err)
			msg.Ack()
			continue
		}

		if !matchesFilters(msg.Data(), filters) {
			msg.Ack()
			continue
		}

		if jsonOutput {
			fmt.Println(string(msg.Data()))
		} else {
			ts := time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339)
			fmt.Printf("%s  %-24s %s #%d\n", ts, event.Type, event.Signature, event.Position)
		}
		msg.Ack()
	}
}

// matchesFilters evaluates every compiled jq filter against the event
// JSON; all must return a truthy value.
func matchesFilters(raw []byte, filters []*gojq.Code) bool {
	if len(filters) == 0 {
		return true
	}

	var eventJSON interface{}
	if err := json.Unmarshal(raw, &eventJSON); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(eventJSON)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: false and null are falsy, everything
// else is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

// inspectStreamCommand shows information about the events stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the EVENTS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream:     %s\n", info.Config.Name)
			fmt.Printf("Subjects:   %v\n", info.Config.Subjects)
			fmt.Printf("Messages:   %d\n", info.State.Msgs)
			fmt.Printf("Bytes:      %d\n", info.State.Bytes)
			fmt.Printf("First Seq:  %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:   %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:  %d\n", info.State.Consumers)
			fmt.Printf("Max Age:    %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
