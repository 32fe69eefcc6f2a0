// Package render turns notices into images: an HTML card is built from an
// embedded template and sent to a headless-browser screenshot service.
package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/obentoo/gamepush/internal/monitor"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var (
	// ErrRender is returned when the screenshot service yields no usable image
	ErrRender = errors.New("render failed")
)

// DefaultTemplate is used when a product names an unknown template.
const DefaultTemplate = "default"

// Templates lists the embedded template names.
func Templates() []string {
	var names []string
	for _, t := range templates.Templates() {
		names = append(names, strings.TrimSuffix(t.Name(), ".html"))
	}
	return names
}

// Fact is one labelled row of a card.
type Fact struct {
	Label string
	Value string
}

// View is the data a template renders.
type View struct {
	Type     string
	Title    string
	GameName string
	IconURL  string
	Facts    []Fact
	Lines    []string
	Date     string
}

// NewView builds the card data of an event. text is the plain notice,
// shown below the facts.
func NewView(ev monitor.Event, text string, now time.Time) View {
	v := View{
		Type:     string(ev.Type),
		Title:    ev.Title(),
		GameName: ev.Product.Name,
		IconURL:  ev.IconURL,
		Date:     now.Format("2006-01-02"),
	}

	switch ev.Type {
	case monitor.EventMain:
		v.Facts = append(v.Facts, Fact{"版本变更", ev.OldVersion + " → " + ev.NewVersion})
	case monitor.EventPre:
		v.Facts = append(v.Facts, Fact{"新版本", ev.NewVersion})
	case monitor.EventPreRemove:
		v.Facts = append(v.Facts, Fact{"即将上线", ev.OldVersion})
	}
	if total := ev.Size.FormattedTotal(); total != "" && ev.Size.HasAudio {
		v.Facts = append(v.Facts, Fact{"游戏本体大小", total}, Fact{"音频资源大小", ev.Size.FormattedAudio()})
	} else if total != "" {
		v.Facts = append(v.Facts, Fact{"完整大小（含中文语音）", total})
	}
	if inc := ev.Size.FormattedIncremental(); inc != "" {
		label := "增量更新大小"
		if ev.Size.PatchVersion != "" {
			label += "（自 " + ev.Size.PatchVersion + "）"
		}
		v.Facts = append(v.Facts, Fact{label, "约" + inc})
	}

	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			v.Lines = append(v.Lines, line)
		}
	}
	return v
}

// HTML renders the event with the named template.
func HTML(name string, view View) (string, error) {
	t := templates.Lookup(name + ".html")
	if t == nil {
		t = templates.Lookup(DefaultTemplate + ".html")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("%w: template %s: %v", ErrRender, t.Name(), err)
	}
	return buf.String(), nil
}

// screenshotRequest is the body posted to the screenshot service.
type screenshotRequest struct {
	HTML      string `json:"html"`
	Type      string `json:"type"`
	FullPage  bool   `json:"full_page"`
	WaitUntil string `json:"wait_until"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// Renderer implements monitor.Renderer against a screenshot service.
type Renderer struct {
	endpoint string
	client   *monitor.RetryableHTTPClient
	timeout  time.Duration
	now      func() time.Time
}

var _ monitor.Renderer = (*Renderer)(nil)

// Option is a functional option for configuring Renderer
type Option func(*Renderer)

// WithNowFunc sets the clock used for the card date (useful for testing).
func WithNowFunc(fn func() time.Time) Option {
	return func(r *Renderer) {
		r.now = fn
	}
}

// New creates a renderer posting to endpoint.
func New(endpoint string, timeout time.Duration, opts ...Option) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := monitor.NewRetryableHTTPClientWithConfig(monitor.RetryConfig{Timeout: timeout})
	client.SetHeader("Accept", "image/*")
	r := &Renderer{
		endpoint: endpoint,
		client:   client,
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns a JPEG or PNG of the event's card.
func (r *Renderer) Render(ctx context.Context, ev monitor.Event, text string) ([]byte, error) {
	page, err := HTML(ev.Template, NewView(ev, text, r.now()))
	if err != nil {
		return nil, err
	}

	img, err := r.client.PostForBytes(ctx, r.endpoint, screenshotRequest{
		HTML:      page,
		Type:      "jpeg",
		FullPage:  true,
		WaitUntil: "networkidle2",
		TimeoutMS: r.timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	if ct := http.DetectContentType(img); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: screenshot service returned %s", ErrRender, ct)
	}
	return img, nil
}
