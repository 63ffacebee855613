package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/version"
	"github.com/fatih/color"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newStatusCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Bella %s (commit %s)\n\n", version.Version, version.Commit)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:  %s\n", color.RedString("error loading: %v", err))
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendRows([]table.Row{
				{"Config", paths.Config},
				{"Plugins", cfg.Plugins.Dir},
				{"Store", cfg.Store.Path},
				{"Bot", fmt.Sprintf("%s (prefix %q, creator %s)", cfg.Bot.Name, cfg.Bot.Prefix, cfg.Bot.Creator)},
				{"Gateway", fmt.Sprintf("port=%d bind=%s", cfg.Gateway.Port, cfg.Gateway.Bind)},
				{"AI", aiSummary(cfg.AI)},
				{"Channels", strings.Join(channelSummary(cfg.Channels), ", ")},
			})
			t.Render()

			if gatewayURL == "" {
				gatewayURL = "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Gateway.Port))
			}
			fmt.Fprintf(out, "\nGateway: %s\n", probeHealth(cmd.Context(), gatewayURL))

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", color.YellowString(issue.String()))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "gateway base URL to probe (default from config)")
	return cmd
}

func aiSummary(ai config.AIConfig) string {
	if ai.Provider == "" || ai.Provider == "none" {
		return "disabled"
	}
	s := ai.Provider + "/" + ai.Model
	if len(ai.Fallbacks) > 0 {
		s += " -> " + strings.Join(ai.Fallbacks, " -> ")
	}
	return s
}

func channelSummary(ch config.ChannelsConfig) []string {
	var out []string
	if !ch.Web.Disabled {
		out = append(out, "web")
	}
	if ch.WhatsApp != nil {
		out = append(out, "whatsapp")
	}
	if ch.IRC != nil {
		out = append(out, fmt.Sprintf("irc (%s as %s)", ch.IRC.Server, ch.IRC.Nick))
	}
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}

// probeHealth queries /health once and describes the result.
func probeHealth(ctx context.Context, baseURL string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return color.RedString("invalid url: %v", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	hc := retryablehttp.NewClient()
	hc.RetryMax = 0
	hc.Logger = nil
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	resp, err := hc.Do(req)
	if err != nil {
		return color.YellowString("not running at %s", baseURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return color.RedString("unhealthy (%s)", resp.Status)
	}
	h := gjson.ParseBytes(data)
	return color.GreenString("%s", h.Get("status").String()) + fmt.Sprintf(
		" version=%s uptime=%s plugins=%d tools=%d clients=%d",
		h.Get("version").String(), h.Get("uptime").String(),
		h.Get("plugins").Int(), h.Get("tools").Int(), h.Get("clients").Int())
}
