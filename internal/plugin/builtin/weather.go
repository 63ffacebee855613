package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const (
	defaultWeatherAPI = "https://api.weather.gov"
	forecastPeriods   = 4
)

var weatherManifest = plugin.Manifest{
	ID:          "weather",
	Name:        "Weather",
	Version:     "1.0.0",
	Author:      "bella",
	Description: "Weather forecasts and active alerts from the US National Weather Service",
	Tags:        []string{"weather"},
	Permissions: []string{"network"},
	Capabilities: plugin.Capabilities{
		Commands: []string{"cuaca", "weather"},
		Tools:    []string{"weather_alerts", "weather_forecast"},
	},
	Triggers: plugin.Triggers{
		Commands: []string{"cuaca", "weather"},
	},
	IntentExamples: []string{"cuaca 38.89 -77.03"},
	Maturity:       plugin.MaturityBeta,
}

// Period is one forecast period.
type Period struct {
	Name        string `json:"name"`
	Temperature int64  `json:"temperature"`
	Unit        string `json:"unit"`
	Wind        string `json:"wind"`
	Summary     string `json:"summary"`
}

// Alert is one active weather alert.
type Alert struct {
	Event    string `json:"event"`
	Severity string `json:"severity"`
	Area     string `json:"area"`
	Headline string `json:"headline"`
}

type weather struct {
	http *retryablehttp.Client
	base string
	log  *logging.Logger
}

func (w *weather) module() *plugin.Module {
	coords := map[string]any{
		"type":     "object",
		"required": []any{"latitude", "longitude"},
		"properties": map[string]any{
			"latitude":  map[string]any{"type": "number"},
			"longitude": map[string]any{"type": "number"},
		},
	}
	return plugin.NewModule().
		Handle("cuaca", w.command).
		Handle("weather", w.command).
		AddTool("weather_forecast", plugin.Tool{
			Description: "Forecast for a US location by latitude and longitude",
			Schema:      coords,
			Handler:     w.forecastTool,
		}).
		AddTool("weather_alerts", plugin.Tool{
			Description: "Active weather alerts for a US state (two-letter code)",
			Schema: map[string]any{
				"type":       "object",
				"required":   []any{"state"},
				"properties": map[string]any{"state": map[string]any{"type": "string"}},
			},
			Handler: w.alertsTool,
		})
}

func (w *weather) command(ctx context.Context, mc *domain.MessageContext) error {
	if len(mc.Args) < 2 {
		mc.Reply(ctx, "Pakai: cuaca <latitude> <longitude>")
		return nil
	}
	lat, err1 := strconv.ParseFloat(mc.Args[0], 64)
	lon, err2 := strconv.ParseFloat(mc.Args[1], 64)
	if err1 != nil || err2 != nil {
		mc.Reply(ctx, "Koordinat tidak valid.")
		return nil
	}

	periods, err := w.forecast(ctx, lat, lon)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🌤️ Cuaca %.4f, %.4f\n", lat, lon)
	for _, p := range periods {
		fmt.Fprintf(&b, "\n%s: %d°%s, %s. Angin %s", p.Name, p.Temperature, p.Unit, p.Summary, p.Wind)
	}
	mc.Reply(ctx, b.String())
	return nil
}

func (w *weather) forecastTool(ctx context.Context, mc *domain.MessageContext, input map[string]any) (any, error) {
	lat, ok1 := number(input["latitude"])
	lon, ok2 := number(input["longitude"])
	if !ok1 || !ok2 {
		return nil, errors.New("latitude and longitude are required as numbers")
	}
	periods, err := w.forecast(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return map[string]any{"latitude": lat, "longitude": lon, "periods": periods}, nil
}

func (w *weather) alertsTool(ctx context.Context, mc *domain.MessageContext, input map[string]any) (any, error) {
	state, _ := input["state"].(string)
	state = strings.ToUpper(strings.TrimSpace(state))
	if len(state) != 2 {
		return nil, errors.New("state must be a two-letter code")
	}
	alerts, err := w.alerts(ctx, state)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state, "alerts": alerts}, nil
}

func (w *weather) forecast(ctx context.Context, lat, lon float64) ([]Period, error) {
	points, err := w.get(ctx, fmt.Sprintf("%s/points/%.4f,%.4f", w.base, lat, lon))
	if err != nil {
		return nil, fmt.Errorf("grid point: %w", err)
	}
	forecastURL := gjson.GetBytes(points, "properties.forecast").String()
	if forecastURL == "" {
		return nil, errors.New("no forecast for this location")
	}

	body, err := w.get(ctx, forecastURL)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	var out []Period
	for _, p := range gjson.GetBytes(body, "properties.periods").Array() {
		if len(out) == forecastPeriods {
			break
		}
		out = append(out, Period{
			Name:        p.Get("name").String(),
			Temperature: p.Get("temperature").Int(),
			Unit:        p.Get("temperatureUnit").String(),
			Wind:        strings.TrimSpace(p.Get("windDirection").String() + " " + p.Get("windSpeed").String()),
			Summary:     p.Get("shortForecast").String(),
		})
	}
	return out, nil
}

func (w *weather) alerts(ctx context.Context, state string) ([]Alert, error) {
	body, err := w.get(ctx, w.base+"/alerts/active?area="+state)
	if err != nil {
		return nil, err
	}
	out := []Alert{}
	gjson.GetBytes(body, "features.#.properties").ForEach(func(_, p gjson.Result) bool {
		out = append(out, Alert{
			Event:    p.Get("event").String(),
			Severity: p.Get("severity").String(),
			Area:     p.Get("areaDesc").String(),
			Headline: p.Get("headline").String(),
		})
		return true
	})
	return out, nil
}

func (w *weather) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "application/geo+json")

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "detail").String()
		if msg == "" {
			msg = resp.Status
		}
		w.log.Warn().Str("url", endpoint).Int("status", resp.StatusCode).Msg("weather api error")
		return nil, fmt.Errorf("weather api: %s", msg)
	}
	return body, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
