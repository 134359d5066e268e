package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

func handlerFromContext(c *cli.Context) (*Handler, error) {
	return NewHandler(Config{
		Broker:      c.String("broker"),
		RedisAddr:   c.String("redis-addr"),
		KafkaAddr:   c.String("kafka-addr"),
		IdleTimeout: c.Duration("idle-timeout"),
	})
}

func withHandler(fn func(c *cli.Context, h *Handler) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		h, err := handlerFromContext(c)
		if err != nil {
			return err
		}
		defer h.Close()

		return fn(c, h)
	}
}

func messageIDArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", cli.Exit("message id is required", 2)
	}
	return id, nil
}

func main() {
	app := &cli.App{
		Name:  "poison-queue-cli",
		Usage: "Manage the Poison Queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "broker",
				Value:   BrokerRedis,
				Usage:   "redis or kafka",
				EnvVars: []string{"POISON_QUEUE_BROKER"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "kafka-addr",
				EnvVars: []string{"KAFKA_ADDR"},
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Value: 5 * time.Second,
				Usage: "stop reading when no message arrives for this long",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "preview",
				Usage: "preview messages",
				Action: withHandler(func(c *cli.Context, h *Handler) error {
					messages, err := h.Preview(c.Context)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTOPIC\tHANDLER\tREASON")
					for _, m := range messages {
						fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", m.ID, m.Topic, m.Handler, m.Reason)
					}
					return w.Flush()
				}),
			},
			{
				Name:      "remove",
				ArgsUsage: "<message_id>",
				Usage:     "remove message",
				Action: withHandler(func(c *cli.Context, h *Handler) error {
					id, err := messageIDArg(c)
					if err != nil {
						return err
					}
					return h.Remove(c.Context, id)
				}),
			},
			{
				Name:      "requeue",
				ArgsUsage: "<message_id>",
				Usage:     "publish message back to its original topic",
				Action: withHandler(func(c *cli.Context, h *Handler) error {
					id, err := messageIDArg(c)
					if err != nil {
						return err
					}
					return h.Requeue(c.Context, id)
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
