package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"
)

const (
	maxFetchBytes = 2 << 20
	maxToolText   = 4000
	maxReplyText  = 700
)

var errBlockedTarget = errors.New("blocked target")

var fetchManifest = plugin.Manifest{
	ID:          "fetch",
	Name:        "Fetch",
	Version:     "1.0.0",
	Author:      "bella",
	Description: "Fetches a web page and returns its readable text",
	Tags:        []string{"web", "utility"},
	Permissions: []string{"network"},
	Capabilities: plugin.Capabilities{
		Commands: []string{"fetch"},
		Tools:    []string{"fetch_url"},
	},
	Triggers: plugin.Triggers{
		Commands: []string{"fetch"},
		Patterns: []string{"link website", "http:// https://"},
	},
	IntentExamples: []string{"baca link https://example.com", "buka website https://example.com"},
	Maturity:       plugin.MaturityBeta,
}

// Page is the result of a fetch.
type Page struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Title       string `json:"title,omitempty"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated"`
}

type fetcher struct {
	http *retryablehttp.Client
	log  *logging.Logger
}

func (f *fetcher) module() *plugin.Module {
	return plugin.NewModule().
		Handle("fetch", f.command).
		AddTool("fetch_url", plugin.Tool{
			Description: "Fetch a web page over http(s) and return its title and text",
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"url"},
				"properties": map[string]any{
					"url": map[string]any{"type": "string", "description": "http or https URL"},
				},
			},
			Handler: f.tool,
		})
}

func (f *fetcher) command(ctx context.Context, mc *domain.MessageContext) error {
	if len(mc.Args) == 0 {
		mc.Reply(ctx, "Pakai: fetch <url>")
		return nil
	}
	target := mc.Args[0]
	for _, arg := range mc.Args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			target = arg
			break
		}
	}
	page, err := f.fetch(ctx, target)
	if err != nil {
		return err
	}

	text, cut := truncate(page.Text, maxReplyText)
	if cut {
		text += "…"
	}
	var b strings.Builder
	if page.Title != "" {
		b.WriteString("📄 " + page.Title + "\n\n")
	}
	b.WriteString(text)
	mc.Reply(ctx, b.String())
	return nil
}

func (f *fetcher) tool(ctx context.Context, mc *domain.MessageContext, input map[string]any) (any, error) {
	raw, _ := input["url"].(string)
	if raw == "" {
		return nil, errors.New("url is required")
	}
	return f.fetch(ctx, raw)
}

func (f *fetcher) fetch(ctx context.Context, raw string) (*Page, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("url must start with http:// or https://")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	f.log.Debug().Str("url", u.String()).Msg("fetching")
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &Page{
		URL:         u.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	mediaType, _, _ := mime.ParseMediaType(page.ContentType)
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text = htmlText(string(body))
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "":
		page.Text = strings.TrimSpace(string(body))
	default:
		page.Text = fmt.Sprintf("(%s, %d bytes)", mediaType, len(body))
	}
	page.Text, page.Truncated = truncate(page.Text, maxToolText)

	if resp.StatusCode >= 400 {
		return page, fmt.Errorf("fetch %s: %s", u.Host, resp.Status)
	}
	return page, nil
}

// guardClient returns a client with base's retry settings whose dialer
// refuses every address blocked reports. The check runs on the resolved
// address of each connection, redirects included.
func guardClient(base *retryablehttp.Client, blocked func(netip.AddrPort) bool) *retryablehttp.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if bt, ok := base.HTTPClient.Transport.(*http.Transport); ok {
		tr = bt.Clone()
	}
	tr.Proxy = nil
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil || blocked(ap) {
				return fmt.Errorf("%w: %s", errBlockedTarget, address)
			}
			return nil
		},
	}
	tr.DialContext = dialer.DialContext

	retry := base.CheckRetry
	if retry == nil {
		retry = retryablehttp.DefaultRetryPolicy
	}

	hc := retryablehttp.NewClient()
	hc.HTTPClient = &http.Client{Transport: tr, Timeout: base.HTTPClient.Timeout}
	hc.RetryMax = base.RetryMax
	hc.RetryWaitMin = base.RetryWaitMin
	hc.RetryWaitMax = base.RetryWaitMax
	hc.Backoff = base.Backoff
	hc.ErrorHandler = base.ErrorHandler
	hc.Logger = base.Logger
	hc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if errors.Is(err, errBlockedTarget) {
			return false, nil
		}
		return retry(ctx, resp, err)
	}
	return hc
}

// internalAddr reports loopback, private, link-local and unspecified
// addresses.
func internalAddr(ap netip.AddrPort) bool {
	ip := ap.Addr().Unmap()
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// htmlText returns the document title and its visible text, one block per
// line.
func htmlText(doc string) (string, string) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", ""
	}

	var title string
	var lines []string
	var line strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "svg", "head":
				if n.Data == "head" {
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.ElementNode && c.Data == "title" && c.FirstChild != nil {
							title = strings.TrimSpace(c.FirstChild.Data)
						}
					}
				}
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				flush()
				defer flush()
			}
		}
		if n.Type == html.TextNode {
			line.WriteString(n.Data)
			line.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()
	return title, strings.Join(lines, "\n")
}
