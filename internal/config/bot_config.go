package config

import (
	"errors"
	"fmt"
	"time"
)

// Platform limits the bot depends on.
const (
	// TelegramCaptionLimit is the maximum caption length for Telegram media messages.
	TelegramCaptionLimit = 1024

	// TelegramMaxTextLength is the maximum length of a Telegram text message.
	TelegramMaxTextLength = 4096

	// LINEMaxTextMessageLength is the maximum length of a LINE text message.
	LINEMaxTextMessageLength = 5000

	// LINEMaxPostbackDataLength is the maximum size of LINE postback data.
	LINEMaxPostbackDataLength = 300
)

// BotConfig holds the request lifecycle configuration shared by every transport.
type BotConfig struct {
	// Rate limiting (sliding window, per user)
	MaxRequestsPerHour int           // Requests admitted per user per window (default: 30)
	RateWindow         time.Duration // Trailing window length (default: 1h)

	// Sessions and maintenance
	SessionTimeout time.Duration // Pending choice lifetime (default: 300s)
	SweepInterval  time.Duration // Minimum spacing of limiter/session sweeps (default: 300s)
	EventTimeout   time.Duration // Upper bound for one inbound event (default: 5m)

	// Captions
	CaptionDescriptionLimit int // Description runes kept before "..." (default: 200)
	TransportCaptionLimit   int // Final caption runes (default: 1024, Telegram limit)

	// Outbound throttling (per transport, requests per second)
	TelegramSendRPS float64 // Telegram allows ~30 messages per second per bot
	LineSendRPS     float64 // LINE push API allows 2000 requests per second; we stay far below
}

// DefaultBotConfig returns the default request lifecycle configuration.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		MaxRequestsPerHour:      30,
		RateWindow:              RateWindow,
		SessionTimeout:          SessionTimeout,
		SweepInterval:           SweepInterval,
		EventTimeout:            EventProcessing,
		CaptionDescriptionLimit: 200,
		TransportCaptionLimit:   TelegramCaptionLimit,
		TelegramSendRPS:         25,
		LineSendRPS:             50,
	}
}

// Validate checks if the configuration is valid.
// All failures are reported together.
func (c *BotConfig) Validate() error {
	var errs []error

	if c.MaxRequestsPerHour < 1 {
		errs = append(errs, fmt.Errorf("max requests per hour must be positive, got %d", c.MaxRequestsPerHour))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate window must be positive, got %v", c.RateWindow))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session timeout must be positive, got %v", c.SessionTimeout))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %v", c.SweepInterval))
	}
	if c.EventTimeout <= 0 {
		errs = append(errs, fmt.Errorf("event timeout must be positive, got %v", c.EventTimeout))
	}
	if c.CaptionDescriptionLimit < 1 {
		errs = append(errs, fmt.Errorf("caption description limit must be positive, got %d", c.CaptionDescriptionLimit))
	}
	if c.TransportCaptionLimit < 1 || c.TransportCaptionLimit > TelegramCaptionLimit {
		errs = append(errs, fmt.Errorf("transport caption limit must be 1-%d, got %d", TelegramCaptionLimit, c.TransportCaptionLimit))
	}
	if c.TelegramSendRPS <= 0 {
		errs = append(errs, fmt.Errorf("telegram send RPS must be positive, got %f", c.TelegramSendRPS))
	}
	if c.LineSendRPS <= 0 {
		errs = append(errs, fmt.Errorf("LINE send RPS must be positive, got %f", c.LineSendRPS))
	}

	return errors.Join(errs...)
}
