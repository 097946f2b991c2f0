// Package notify is the fire-and-forget alert sink. Delivery runs detached
// from the round with its own timeout; failures are logged and dropped.
package notify

import (
	"context"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
)

// Pusher posts alerts to a webhook endpoint.
type Pusher struct {
	client *resty.Client
	url    string
	token  string
}

type Params struct {
	URL      string
	TokenEnv string
	Timeout  time.Duration
}

func NewPusher(p Params) *Pusher {
	client := resty.New().
		SetTimeout(p.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Pusher{
		client: client,
		url:    p.URL,
		token:  os.Getenv(p.TokenEnv),
	}
}

var _ interfaces.Notifier = (*Pusher)(nil)

// Send implements interfaces.Notifier. It returns immediately; the push
// happens on its own goroutine so a slow sink never blocks a round.
func (p *Pusher) Send(ctx context.Context, message, severity string) {
	if severity == "" {
		severity = "info"
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), p.client.GetClient().Timeout+time.Second)
		defer cancel()

		resp, err := p.client.R().
			SetContext(sendCtx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{
				"token":    p.token,
				"message":  message,
				"severity": severity,
			}).
			Post(p.url)
		if err != nil {
			logger.Warn(sendCtx, "Notification push failed", "error", err)
			return
		}
		if resp.IsError() {
			logger.Warn(sendCtx, "Notification push rejected", "status", resp.StatusCode())
		}
	}()
}

// Noop discards every notification. Used when the sink is disabled.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

var _ interfaces.Notifier = (*Noop)(nil)

func (*Noop) Send(ctx context.Context, message, severity string) {
	logger.Debug(ctx, "Notification dropped (sink disabled)", "severity", severity)
}
