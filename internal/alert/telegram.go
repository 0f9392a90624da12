// Package alert sends Telegram notifications for risk and connection
// events the daemon can't assume a human is watching for in real time,
// grounded on the teacher's internal/bot/telegram.go send/format idiom but
// scoped to this daemon's domain: halts, resumes, and connection loss, not
// trading commands.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/models"
)

// Notifier sends formatted alerts to a single configured Telegram chat. It
// is nil-safe at the call site: a daemon run without AlertConfig simply
// never constructs one.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New returns nil, nil if no Telegram token is configured — callers treat a
// nil *Notifier as "alerting disabled" rather than threading a bool through.
func New(cfg config.AlertConfig) (*Notifier, error) {
	if cfg.TelegramToken == "" {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("alert notifier connected to telegram")

	return &Notifier{api: api, chatID: cfg.TelegramChatID}, nil
}

// HandleEvent routes a models.Event to the appropriate formatted alert. Only
// risk and connection topics produce a message; everything else is ignored.
func (n *Notifier) HandleEvent(event models.Event) {
	if n == nil || n.chatID == 0 {
		return
	}

	switch event.Topic {
	case models.TopicRisk:
		n.sendRiskAlert(event)
	case models.TopicConnection:
		n.sendConnectionAlert(event)
	}
}

func (n *Notifier) sendRiskAlert(event models.Event) {
	details, _ := event.Payload.(map[string]any)
	reason, _ := details["reason"].(string)

	var text string
	switch details["event"] {
	case "halt":
		text = fmt.Sprintf("*Trading halted*\nReason: %s\nTime: %s", orDash(reason), event.Timestamp.Format("15:04:05 MST"))
	case "resume":
		text = fmt.Sprintf("*Trading resumed*\nTime: %s", event.Timestamp.Format("15:04:05 MST"))
	default:
		text = fmt.Sprintf("*Risk event*: %v", details)
	}
	n.send(text)
}

func (n *Notifier) sendConnectionAlert(event models.Event) {
	details, _ := event.Payload.(map[string]any)
	state, _ := details["event"].(string)
	n.send(fmt.Sprintf("*Connection %s*\nTime: %s", orDash(state), event.Timestamp.Format("15:04:05 MST")))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram alert")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
