// Package telegram delivers notifications through the Telegram Bot API.
// roadmapd uses it send-only: no poller, no inbound update handling.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "roadmapd/internal/transport"
	"roadmapd/pkg/logx"
)

type Config struct {
	Token string
}

type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline until the first send; no poller is attached.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, log: log}, nil
}

const textLimit = 4000

// splitText chunks long messages on newline boundaries where possible.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := limit
		if end > len(rs) {
			end = len(rs)
		}
		cut := end
		if end < len(rs) {
			for i := end - 1; i > 0; i-- {
				if rs[i] == '\n' {
					cut = i + 1
					break
				}
			}
		}
		out = append(out, string(rs[:cut]))
		rs = rs[cut:]
	}
	return out
}

func (s *Sender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if i > 0 {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		msg, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			if i > 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// Stop is part of the Sender contract. No poller runs, so there is nothing
// to tear down; in-flight sends are bounded by their own contexts.
func (s *Sender) Stop(context.Context) error { return nil }
