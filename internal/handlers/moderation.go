package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/bot"
	"github.com/iamwavecut/langwarden/internal/classifier"
	"github.com/iamwavecut/langwarden/internal/config"
	"github.com/iamwavecut/langwarden/internal/enforcer"
	"github.com/iamwavecut/langwarden/internal/observability"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/state"
)

// Moderation feeds every group message through classification and, when the
// pipeline condemns it, through the escalation machine. Join events keep the
// risk ledger's join timestamps current.
type Moderation struct {
	s        bot.Service
	store    *state.Store
	pipeline *classifier.Pipeline
	machine  *enforcer.Machine
	actions  platform.Actions
	cfg      config.Enforcement
}

func NewModeration(
	s bot.Service,
	store *state.Store,
	pipeline *classifier.Pipeline,
	machine *enforcer.Machine,
	actions platform.Actions,
	cfg config.Enforcement,
) *Moderation {
	return &Moderation{
		s:        s,
		store:    store,
		pipeline: pipeline,
		machine:  machine,
		actions:  actions,
		cfg:      cfg,
	}
}

func (h *Moderation) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}

	h.trackJoins(u, chat)
	h.ensureAdmins(ctx, chat.ID)

	if u.Message == nil {
		return true, nil
	}

	entry := h.getLogEntry().WithField("chat_id", chat.ID).WithField("user_id", user.ID)
	finish := observability.StartMessageProcessing()

	msg := platform.FromAPIMessage(u.Message)
	actor := platform.ActorFromUser(user, h.s.GetBot().Self.ID)
	h.store.Touch(msg.GroupID, actor.UserID, h.cfg.LimitWindow)

	result := h.pipeline.Classify(ctx, msg, actor)
	if result.None() {
		finish("clean")
		return true, nil
	}
	entry = entry.WithField("category", string(result.Category))

	outcome, err := h.machine.Terminate(ctx, msg, actor, result)
	if err != nil {
		finish("error")
		entry.WithError(err).Error("enforcement withheld")
		return true, nil
	}
	finish(outcome.Tier)
	entry.WithField("tier", outcome.Tier).Info("message enforced")
	return false, nil
}

// trackJoins stamps join times for freshly added members and remembers bots
// as privileged service identities.
func (h *Moderation) trackJoins(u *api.Update, chat *api.Chat) {
	if u.Message != nil {
		for _, member := range u.Message.NewChatMembers {
			if member.IsBot {
				h.store.AddBot(member.ID)
				continue
			}
			h.store.Ledger().RecordJoin(chat.ID, member.ID)
		}
	}
	if u.ChatMember != nil && u.ChatMember.NewChatMember.Status == "member" {
		member := u.ChatMember.NewChatMember.User
		if member != nil && !member.IsBot {
			h.store.Ledger().RecordJoin(chat.ID, member.ID)
		}
	}
}

func (h *Moderation) ensureAdmins(ctx context.Context, chatID int64) {
	if h.store.HasAdmins(chatID) {
		return
	}
	admins, err := h.actions.FetchAdmins(ctx, chatID)
	if err != nil {
		h.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant fetch admins")
		return
	}
	h.store.SetAdmins(chatID, admins)
}

func (h *Moderation) getLogEntry() *log.Entry {
	return log.WithField("context", "moderation")
}
