// Package providers holds the outbound adapters: offline notification
// delivery (telegram, email) and the HTTP clients for the third-party
// market, news and filings data sources.
package providers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tickerpulse/internal/config"
	"tickerpulse/internal/models"
)

// Dispatcher routes a notification to the user's contact point type.
type Dispatcher struct {
	cfg             config.Config
	logger          *logrus.Logger
	telegramLimiter *rate.Limiter
}

func NewDispatcher(cfg config.Config, logger *logrus.Logger) *Dispatcher {
	perSecond := cfg.RateLimit.TelegramRateLimiter
	return &Dispatcher{
		cfg:             cfg,
		logger:          logger,
		telegramLimiter: rate.NewLimiter(rate.Limit(float64(perSecond)), perSecond),
	}
}

// Deliver sends subject/body through the contact point's provider.
func (d *Dispatcher) Deliver(ctx context.Context, cp models.ContactPoint, subject, body string) error {
	switch cp.Type {
	case "telegram":
		return d.sendTelegram(ctx, cp, subject, body)
	case "email":
		return d.sendEmail(cp, subject, body)
	default:
		return fmt.Errorf("unknown contact point type %q for user %d", cp.Type, cp.UserID)
	}
}
