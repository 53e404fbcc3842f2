package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"
)

type service struct {
	bot *api.BotAPI
}

func NewService(bot *api.BotAPI) *service {
	return &service{
		bot: bot,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}
