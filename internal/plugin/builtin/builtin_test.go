package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *retryablehttp.Client {
	hc := newHTTPClient()
	hc.RetryMax = 0
	return hc
}

func byID(t *testing.T, builtins []Builtin, id string) *plugin.Module {
	t.Helper()
	for _, b := range builtins {
		if b.Manifest.ID == id {
			return b.New()
		}
	}
	t.Fatalf("builtin %s not found", id)
	return nil
}

func newMC(text string, args ...string) *domain.MessageContext {
	return domain.NewMessageContext(domain.InboundMessage{
		Platform: "web",
		ChatID:   "chat-1",
		Channel:  domain.ChatTypeWeb,
		Text:     text,
		Sender:   domain.Sender{ID: "u1", Name: "Tomii"},
	}, args, nil)
}

func TestInstall_ValidManifests(t *testing.T) {
	dir := t.TempDir()
	builtins := All(logging.New(nil, "silent"), Options{})

	installed, err := Install(dir, builtins)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "weather"}, installed)

	v, err := plugin.NewValidator()
	require.NoError(t, err)
	for _, id := range installed {
		raw, err := os.ReadFile(filepath.Join(dir, id, plugin.ManifestFile))
		require.NoError(t, err)
		m, err := v.Validate(raw)
		require.NoError(t, err, id)
		assert.False(t, m.Enabled, "built-ins start disabled")
		assert.FileExists(t, filepath.Join(dir, id, plugin.EntryFile))
	}

	again, err := Install(dir, builtins)
	require.NoError(t, err)
	assert.Empty(t, again, "existing folders are kept")
}

func TestRegister_LoadsThroughRegistry(t *testing.T) {
	dir := t.TempDir()
	log := logging.New(nil, "silent")
	builtins := All(log, Options{})
	_, err := Install(dir, builtins)
	require.NoError(t, err)

	rt := plugin.NewNativeRuntime(nil)
	Register(rt, builtins)
	assert.True(t, rt.Has("weather"))

	reg := plugin.NewRegistry(dir, rt, log)
	defer reg.Close()
	ctx := context.Background()
	rec, ok := reg.FindByID(ctx, "weather")
	require.True(t, ok)
	require.NoError(t, reg.Load(ctx, rec))

	loaded, ok := reg.Get("weather")
	require.True(t, ok)
	assert.Equal(t, []string{"cuaca", "weather"}, loaded.Module.Commands())
	assert.Equal(t, []string{"weather_alerts", "weather_forecast"}, loaded.Module.ToolNames())
}

const page = `<html><head><title>Halo</title><style>p{color:red}</style></head>
<body><h1>Judul</h1>
<p>Satu <b>dua</b></p>
<script>track()</script></body></html>`

func TestFetch_Tool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "bella/")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer ts.Close()

	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), AllowPrivate: true}), "fetch")
	out, err := mod.Tools()["fetch_url"].Handler(context.Background(), newMC(""), map[string]any{"url": ts.URL})
	require.NoError(t, err)

	p := out.(*Page)
	assert.Equal(t, http.StatusOK, p.Status)
	assert.Equal(t, "Halo", p.Title)
	assert.Equal(t, "Judul\nSatu dua", p.Text)
	assert.False(t, p.Truncated)
}

func TestFetch_Command(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  plain body  ")
	}))
	defer ts.Close()

	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), AllowPrivate: true}), "fetch")
	fn, ok := mod.Command("fetch")
	require.True(t, ok)

	mc := newMC("/fetch "+ts.URL, ts.URL)
	require.NoError(t, fn(context.Background(), mc))
	require.Len(t, mc.Responses(), 1)
	assert.Equal(t, "plain body", mc.Responses()[0].Text)

	intent := newMC("baca link "+ts.URL, "link", ts.URL)
	require.NoError(t, fn(context.Background(), intent))
	assert.Equal(t, "plain body", intent.Responses()[0].Text)

	usage := newMC("/fetch")
	require.NoError(t, fn(context.Background(), usage))
	assert.Equal(t, "Pakai: fetch <url>", usage.Responses()[0].Text)
}

func TestFetch_RejectsTargets(t *testing.T) {
	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient()}), "fetch")
	call := mod.Tools()["fetch_url"].Handler

	_, err := call(context.Background(), newMC(""), map[string]any{"url": "http://127.0.0.1:1/"})
	assert.True(t, errors.Is(err, errBlockedTarget), "loopback is blocked: %v", err)

	_, err = call(context.Background(), newMC(""), map[string]any{"url": "ftp://example.com/file"})
	assert.EqualError(t, err, "url must start with http:// or https://")

	_, err = call(context.Background(), newMC(""), map[string]any{})
	assert.EqualError(t, err, "url is required")
}

func TestFetch_RedirectToInternal(t *testing.T) {
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "INTERNAL-SECRET")
	}))
	defer internal.Close()
	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL+"/admin", http.StatusFound)
	}))
	defer public.Close()

	blocked := netip.MustParseAddrPort(internal.Listener.Addr().String())
	f := &fetcher{
		http: guardClient(testClient(), func(ap netip.AddrPort) bool { return ap == blocked }),
		log:  logging.New(nil, "silent"),
	}

	page, err := f.fetch(context.Background(), public.URL)
	assert.ErrorIs(t, err, errBlockedTarget)
	assert.Nil(t, page)

	_, err = f.fetch(context.Background(), internal.URL)
	assert.ErrorIs(t, err, errBlockedTarget)
}

func TestFetch_GuardAllowsOtherTargets(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	f := &fetcher{
		http: guardClient(testClient(), func(netip.AddrPort) bool { return false }),
		log:  logging.New(nil, "silent"),
	}
	page, err := f.fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", page.Text)
}

func TestInternalAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:80", true},
		{"10.1.2.3:443", true},
		{"192.168.0.10:80", true},
		{"169.254.169.254:80", true},
		{"0.0.0.0:80", true},
		{"[::1]:80", true},
		{"[::ffff:127.0.0.1]:80", true},
		{"[fe80::1]:80", true},
		{"93.184.216.34:80", false},
		{"[2606:2800:220:1::1]:443", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, internalAddr(netip.MustParseAddrPort(tt.addr)), tt.addr)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer ts.Close()

	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), AllowPrivate: true}), "fetch")
	_, err := mod.Tools()["fetch_url"].Handler(context.Background(), newMC(""), map[string]any{"url": ts.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}

func weatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/points/38.8900,-77.0300", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/geo+json", r.Header.Get("Accept"))
		fmt.Fprintf(w, `{"properties":{"forecast":%q}}`, ts.URL+"/gridpoints/LWX/96,70/forecast")
	})
	mux.HandleFunc("/gridpoints/LWX/96,70/forecast", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"properties":{"periods":[
			{"name":"Tonight","temperature":50,"temperatureUnit":"F","windSpeed":"5 mph","windDirection":"NW","shortForecast":"Clear"},
			{"name":"Monday","temperature":68,"temperatureUnit":"F","windSpeed":"10 mph","windDirection":"S","shortForecast":"Sunny"}
		]}}`)
	})
	mux.HandleFunc("/alerts/active", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VA", r.URL.Query().Get("area"))
		fmt.Fprint(w, `{"features":[{"properties":{"event":"Flood Watch","severity":"Moderate","areaDesc":"Fairfax","headline":"Flood Watch issued"}}]}`)
	})
	mux.HandleFunc("/points/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"Data Unavailable For Requested Point"}`)
	})
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestWeather_Forecast(t *testing.T) {
	ts := weatherServer(t)
	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), WeatherAPI: ts.URL}), "weather")

	out, err := mod.Tools()["weather_forecast"].Handler(context.Background(), newMC(""),
		map[string]any{"latitude": 38.89, "longitude": -77.03})
	require.NoError(t, err)
	periods := out.(map[string]any)["periods"].([]Period)
	require.Len(t, periods, 2)
	assert.Equal(t, Period{Name: "Tonight", Temperature: 50, Unit: "F", Wind: "NW 5 mph", Summary: "Clear"}, periods[0])

	fn, _ := mod.Command("cuaca")
	mc := newMC("/cuaca 38.89 -77.03", "38.89", "-77.03")
	require.NoError(t, fn(context.Background(), mc))
	require.Len(t, mc.Responses(), 1)
	assert.Contains(t, mc.Responses()[0].Text, "Tonight: 50°F, Clear. Angin NW 5 mph")
}

func TestWeather_Errors(t *testing.T) {
	ts := weatherServer(t)
	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), WeatherAPI: ts.URL}), "weather")
	forecast := mod.Tools()["weather_forecast"].Handler

	_, err := forecast(context.Background(), newMC(""), map[string]any{"latitude": 1.0, "longitude": 2.0})
	assert.EqualError(t, err, "grid point: weather api: Data Unavailable For Requested Point")

	_, err = forecast(context.Background(), newMC(""), map[string]any{"latitude": "x"})
	assert.Error(t, err)

	fn, _ := mod.Command("weather")
	mc := newMC("/weather abc def", "abc", "def")
	require.NoError(t, fn(context.Background(), mc))
	assert.Equal(t, "Koordinat tidak valid.", mc.Responses()[0].Text)
}

func TestWeather_Alerts(t *testing.T) {
	ts := weatherServer(t)
	mod := byID(t, All(logging.New(nil, "silent"), Options{HTTPClient: testClient(), WeatherAPI: ts.URL}), "weather")
	alerts := mod.Tools()["weather_alerts"].Handler

	out, err := alerts(context.Background(), newMC(""), map[string]any{"state": "va"})
	require.NoError(t, err)
	assert.Equal(t, []Alert{{Event: "Flood Watch", Severity: "Moderate", Area: "Fairfax", Headline: "Flood Watch issued"}},
		out.(map[string]any)["alerts"])

	_, err = alerts(context.Background(), newMC(""), map[string]any{"state": "Virginia"})
	assert.EqualError(t, err, "state must be a two-letter code")
}
