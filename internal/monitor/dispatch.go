package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/obentoo/gamepush/internal/common/logger"
)

// Message is what a Sender delivers: text, or an image with its text as
// fallback caption.
type Message struct {
	Format MessageFormat
	Text   string
	Image  []byte
}

// Sender delivers a message to one target.
type Sender interface {
	Send(ctx context.Context, target Target, msg Message) error
}

// Renderer turns an event into an image.
type Renderer interface {
	Render(ctx context.Context, ev Event, text string) ([]byte, error)
}

// DispatchReport summarises one fan-out.
type DispatchReport struct {
	Format    MessageFormat
	Delivered int
	Failed    map[Target]error
}

// Dispatcher renders events and fans them out to targets.
type Dispatcher struct {
	sender      Sender
	renderer    Renderer
	sendTimeout time.Duration
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithRenderer enables image notices.
func WithRenderer(r Renderer) DispatcherOption {
	return func(d *Dispatcher) {
		d.renderer = r
	}
}

// WithSendTimeout bounds each per-target send.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

// NewDispatcher creates a dispatcher over sender.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{sender: sender, sendTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Compose builds the message of an event. Image rendering failures fall
// back to text.
func (d *Dispatcher) Compose(ctx context.Context, ev Event) (Message, error) {
	text, err := RenderText(ev)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Format: FormatText, Text: text}

	if ev.Format != FormatImage {
		return msg, nil
	}
	if d.renderer == nil {
		logger.With(ev.Product.Name).Debug("no renderer configured, sending text")
		return msg, nil
	}
	img, err := d.renderer.Render(ctx, ev, text)
	if err != nil || len(img) == 0 {
		logger.With(ev.Product.Name).Warn("image render failed, falling back to text: %v", err)
		return msg, nil
	}
	msg.Format = FormatImage
	msg.Image = img
	return msg, nil
}

// Dispatch sends ev to every target concurrently and waits for all sends.
// Individual failures are logged and reported, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, targets []Target) DispatchReport {
	log := logger.With(ev.Product.Name)
	report := DispatchReport{Failed: map[Target]error{}}

	msg, err := d.Compose(ctx, ev)
	if err != nil {
		log.Error("cannot compose %s notice: %v", ev.Type, err)
		for _, t := range targets {
			report.Failed[t] = err
		}
		return report
	}
	report.Format = msg.Format

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			err := d.sender.Send(sendCtx, t, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("delivery to %s failed: %v", t, err)
				report.Failed[t] = err
				return
			}
			report.Delivered++
		}(t)
	}
	wg.Wait()

	log.Debug("%s notice delivered to %d/%d targets", ev.Type, report.Delivered, len(targets))
	return report
}
