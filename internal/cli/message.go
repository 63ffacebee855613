package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/version"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newMessageCmd() *cobra.Command {
	var (
		gatewayURL string
		sender     string
		chatID     string
	)

	cmd := &cobra.Command{
		Use:   "message <text>",
		Short: "Send a message to the bot and print its replies",
		Long: "Send a message to the bot and print its replies. Without --gateway the plugins are " +
			"loaded in-process; with it the message goes to a running gateway.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var (
				responses []domain.Response
				err       error
			)
			if gatewayURL != "" {
				responses, err = sendRemote(ctx, gatewayURL, text, sender, chatID)
			} else {
				responses, err = sendLocal(ctx, text, sender, chatID)
			}
			if err != nil {
				return err
			}
			printResponses(cmd.OutOrStdout(), responses)
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "base URL of a running gateway, e.g. http://127.0.0.1:3000")
	cmd.Flags().StringVar(&sender, "as", "CLI User", "sender name")
	cmd.Flags().StringVar(&chatID, "chat", "cli", "chat id")

	return cmd
}

func sendLocal(ctx context.Context, text, sender, chatID string) ([]domain.Response, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	msg := domain.InboundMessage{
		ID:        uuid.NewString(),
		Platform:  "cli",
		ChatID:    chatID,
		ChatName:  sender,
		Channel:   domain.ChatTypePrivate,
		Text:      text,
		Timestamp: time.Now(),
		Sender:    domain.Sender{ID: sender, Name: sender},
	}
	if err := c.history.RecordInbound(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("failed to record message")
	}
	return c.bot.ProcessMessage(ctx, msg, nil)
}

// sendRemote posts the message to the gateway test endpoint.
func sendRemote(ctx context.Context, baseURL, text, sender, chatID string) ([]domain.Response, error) {
	body, err := json.Marshal(map[string]string{"text": text, "nama": sender, "session": chatID})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/plugins/test"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.Logger = nil
	hc.HTTPClient.Timeout = 5 * time.Minute

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(data, "status").Bool() {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("gateway: %s", msg)
	}

	var responses []domain.Response
	raw := gjson.GetBytes(data, "responses").Raw
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &responses); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	return responses, nil
}

func printResponses(out io.Writer, responses []domain.Response) {
	if len(responses) == 0 {
		fmt.Fprintln(out, color.YellowString("(no reply)"))
		return
	}
	for _, r := range responses {
		switch r.Type {
		case domain.ResponseError:
			fmt.Fprintln(out, color.RedString(r.Text))
		case domain.ResponseMedia:
			line := r.URL
			if r.Caption != "" {
				line = r.Caption + " " + line
			}
			fmt.Fprintln(out, color.CyanString("[media] ")+line)
		default:
			fmt.Fprintln(out, r.Text)
		}
	}
}
