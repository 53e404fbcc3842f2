package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Service defines the core bot service interface
type Service interface {
	GetBot() *api.BotAPI
}

// Handler defines the interface for all update handlers in the system
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}
