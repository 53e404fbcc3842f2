package handlers

import (
	"context"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/bot"
	"github.com/iamwavecut/langwarden/internal/config"
	"github.com/iamwavecut/langwarden/internal/detect"
	"github.com/iamwavecut/langwarden/internal/i18n"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/state"
)

// LangTest is a diagnostic handler for the designated test chat: it reports
// what the detector sees in a message without enforcing anything, so
// operators can exercise policies and word lists safely.
type LangTest struct {
	s        bot.Service
	store    *state.Store
	detector detect.Detector
	cfg      config.Config
}

func NewLangTest(s bot.Service, store *state.Store, detector detect.Detector) *LangTest {
	return &LangTest{
		s:        s,
		store:    store,
		detector: detector,
		cfg:      config.Get(),
	}
}

func (h *LangTest) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || chat == nil || u.Message == nil {
		return true, nil
	}
	if h.cfg.TestChatID == 0 || chat.ID != h.cfg.TestChatID {
		return true, nil
	}

	msg := platform.FromAPIMessage(u.Message)
	if strings.TrimSpace(msg.Text) == "" {
		return false, nil
	}

	lang := h.cfg.DefaultLanguage
	lines := []string{i18n.Get("Language test", lang)}

	code, err := h.detector.Detect(ctx, msg.Text)
	if err != nil {
		log.WithError(err).Warn("diagnostic detection failed")
		code = detect.None
	}
	detected := i18n.Get("Not detected", lang)
	if code != detect.None && h.isKnown(code) {
		detected = i18n.GetLanguageName(code.String())
	}
	lines = append(lines, fmt.Sprintf("%s: %s", i18n.Get("Detected language", lang), detected))

	if h.store.IsExempt(msg) {
		lines = append(lines, i18n.Get("White listed", lang))
	}
	if detail, ok := h.store.CachedContent(msg.Fingerprint); ok {
		lines = append(lines, fmt.Sprintf("%s: %s", i18n.Get("Recorded content", lang), detail))
	}
	for _, link := range msg.Links {
		if detail, ok := h.store.CachedLink(link); ok {
			lines = append(lines, fmt.Sprintf("%s: %s", i18n.Get("Recorded link", lang), detail))
		}
	}

	reply := api.NewMessage(chat.ID, strings.Join(lines, "\n"))
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   chat.ID,
		MessageID:                u.Message.MessageID,
		AllowSendingWithoutReply: true,
	}
	if _, err := h.s.GetBot().Send(reply); err != nil {
		log.WithError(err).Error("cant send diagnostic reply")
	}
	return false, nil
}

func (h *LangTest) isKnown(code detect.Code) bool {
	for _, known := range h.cfg.Enforcement.KnownLanguages {
		if strings.EqualFold(known, code.String()) {
			return true
		}
	}
	return false
}
