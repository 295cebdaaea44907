package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:5101"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() (*client, error) {
	return newClient(o.server, &http.Client{Timeout: o.timeout})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Administer a notification service",
		Long: `notifyctl talks to the HTTP API of a running notification service.

It publishes events, reads channel logs and inspects or changes the
subscriptions and delivery state of subscribers.`,
		SilenceUsage: true,
	}

	server := os.Getenv("NOTIFY_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "service base URL (env NOTIFY_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newPublishCmd(opts),
		newEventsCmd(opts),
		newStatusCmd(opts),
		newSubscribeCmd(opts),
		newUnsubscribeCmd(opts),
		newAckCmd(opts),
		newResumeCmd(opts),
	)
	return root
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <payload|->",
		Short: "Append an event to a channel",
		Long:  "Publish appends a JSON payload to the channel's log. Use - to read the payload from stdin.",
		Example: `  notifyctl publish alerts '{"msg":"disk full"}'
  echo '{"msg":"disk full"}' | notifyctl publish alerts -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[1])
			if args[1] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				payload = data
			}
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.do(cmd.Context(), http.MethodPost, "/channels/"+url.PathEscape(args[0])+"/events",
				map[string]json.RawMessage{"payload": payload})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		after uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:     "events <channel>",
		Short:   "Read a channel's events after a sequence number",
		Example: "  notifyctl events alerts --after 10 --limit 50",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("after", strconv.FormatUint(after, 10))
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			resp, err := c.do(cmd.Context(), http.MethodGet,
				"/channels/"+url.PathEscape(args[0])+"/events?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "return events with a greater sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (server default when 0)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <subscriber>",
		Short: "Show a subscriber's channels, cursors and delivery state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.do(cmd.Context(), http.MethodGet, "/subscribers/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}
}

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <subscriber> <channel>",
		Short: "Subscribe a subscriber to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return subscription(cmd, opts, http.MethodPut, args[0], args[1], "subscribed")
		},
	}
}

func newUnsubscribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <subscriber> <channel>",
		Short: "Remove a channel from a subscriber",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return subscription(cmd, opts, http.MethodDelete, args[0], args[1], "unsubscribed")
		},
	}
}

func subscription(cmd *cobra.Command, opts *rootOptions, method, subscriber, channel, verb string) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	path := "/subscribers/" + url.PathEscape(subscriber) + "/channels/" + url.PathEscape(channel)
	if _, err := c.do(cmd.Context(), method, path, nil); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", subscriber, verb, channel)
	return err
}

func newAckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <connection> <channel> <seq>",
		Short: "Acknowledge events on behalf of a connection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil || seq == 0 {
				return fmt.Errorf("invalid sequence number %q", args[2])
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			body := map[string]any{"channel": args[1], "seq": seq}
			if _, err := c.do(cmd.Context(), http.MethodPost, "/connections/"+url.PathEscape(args[0])+"/ack", body); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s up to %d\n", args[1], seq)
			return err
		},
	}
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <connection>",
		Short: "Resume delivery to a suspended subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if _, err := c.do(cmd.Context(), http.MethodPost, "/connections/"+url.PathEscape(args[0])+"/resume", nil); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "resumed")
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
