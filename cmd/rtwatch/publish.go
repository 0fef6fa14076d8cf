package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/event"
)

func newPublishCmd(a *app) *cobra.Command {
	var eventType, target, payload string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to every push server",
		Example: `  rtwatch publish --type notification --target u1 --payload '{"title":"Booking confirmed"}'
  echo '{"conversationId":"c1","count":3}' | rtwatch publish --type chat_unread --target u1 --payload -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readPayload(payload, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ev, err := buildEvent(event.Type(eventType), target, raw)
			if err != nil {
				return err
			}

			mb, err := broker.NewRedisBroker(a.cfg.RedisAddr, a.logger)
			if err != nil {
				return err
			}
			defer mb.Close()

			if err := broker.PublishEvent(cmd.Context(), mb, ev); err != nil {
				return fmt.Errorf("publish %s: %w", ev.ID, err)
			}
			a.logger.Info().Str("event_id", ev.ID).Str("type", string(ev.Type)).Str("target", ev.Target).Msg("Published")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), ev.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "event type")
	cmd.Flags().StringVar(&target, "target", "", "target user id; empty broadcasts")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload, or - to read stdin")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func readPayload(payload string, stdin io.Reader) (json.RawMessage, error) {
	if payload != "-" {
		return json.RawMessage(payload), nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func buildEvent(t event.Type, target string, raw json.RawMessage) (event.Event, error) {
	p, err := event.DecodePayload(t, raw)
	if err != nil {
		return event.Event{}, err
	}
	return event.New(p, target), nil
}
