package cli

import (
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/probe"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSubscribeCommand(a *app) *cobra.Command {
	var url, subject string
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print lifecycle events published by a running monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.NATS
			if url != "" {
				cfg.URL = url
			}
			if subject != "" {
				cfg.Subject = subject
			}

			sub, err := probe.NewSubscriber(cfg)
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			err = sub.Start(func(ev probe.LifecycleEvent) {
				line := ev.String()
				if ev.Kind == lifecycle.EventClosed && !ev.StartTime.IsZero() {
					line += fmt.Sprintf(" after %s", ev.Timestamp.Sub(ev.StartTime))
				}
				fmt.Fprintln(out, line)
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "NATS server URL (default nats.url)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject to subscribe to (default nats.subject)")
	return cmd
}
