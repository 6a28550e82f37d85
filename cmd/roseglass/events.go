package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/roseglass/pkg/events"
)

func newEventsCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "events",
		Short:   "Inspect the event stream",
		GroupID: "ops",
	}

	var (
		natsURL string
		topic   string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				return errors.New("NATS_URL is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, _ = headerColor.Fprintf(stdout, "Tailing %s on %s\n", topic, natsURL)
			return events.Subscribe(ctx, natsURL, topic, func(m events.Message) {
				_, _ = labelColor.Fprint(stdout, m.Topic)
				_, _ = fmt.Fprintf(stdout, " %s\n", m.Data)
			})
		},
	}
	tail.Flags().StringVar(&natsURL, "nats-url", os.Getenv("NATS_URL"), "NATS server URL")
	tail.Flags().StringVar(&topic, "topic", events.TopicAll, "subject to subscribe to")
	cmd.AddCommand(tail)
	return cmd
}
