package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iamwavecut/langwarden/internal/i18n"
)

const (
	requestTimeout  = 10 * time.Second
	metadataTTL     = 5 * time.Minute
	stickerTitleTTL = time.Hour
)

type cachedMeta struct {
	meta      GroupMeta
	fetchedAt time.Time
}

type cachedTitle struct {
	title     string
	fetchedAt time.Time
}

// TelegramActions implements Actions over the bot API. Group metadata and
// sticker set titles are cached with singleflight so a burst of messages in
// one group costs one API round trip.
type TelegramActions struct {
	bot          *api.BotAPI
	reportChatID int64
	reportLang   string

	flight   singleflight.Group
	cacheMu  sync.RWMutex
	metaByID map[int64]cachedMeta
	titles   map[string]cachedTitle
}

func NewTelegramActions(bot *api.BotAPI, reportChatID int64, reportLang string) *TelegramActions {
	return &TelegramActions{
		bot:          bot,
		reportChatID: reportChatID,
		reportLang:   reportLang,
		metaByID:     map[int64]cachedMeta{},
		titles:       map[string]cachedTitle{},
	}
}

func (t *TelegramActions) DeleteMessage(ctx context.Context, groupID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if _, err := t.bot.Request(api.NewDeleteMessage(groupID, messageID)); err != nil {
			return errors.WithMessage(err, "cant delete")
		}
		return nil
	}
}

func (t *TelegramActions) BanMember(ctx context.Context, groupID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if _, err := t.bot.Request(api.BanChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{
					ChatID: groupID,
				},
				UserID: userID,
			},
			RevokeMessages: true,
		}); err != nil {
			return errors.WithMessage(err, "cant ban")
		}
		return nil
	}
}

func (t *TelegramActions) ForwardAsEvidence(ctx context.Context, msg Message) (EvidenceRef, error) {
	if t.reportChatID == 0 {
		// No evidence channel configured: the copy is the original.
		return EvidenceRef{ID: uuid.New(), ChatID: msg.GroupID, MessageID: msg.MessageID}, nil
	}

	select {
	case <-ctx.Done():
		return EvidenceRef{}, ctx.Err()
	default:
	}

	forwarded, err := t.bot.Send(api.NewForward(t.reportChatID, msg.GroupID, msg.MessageID))
	if err != nil {
		return EvidenceRef{}, errors.WithMessage(err, "cant forward evidence")
	}
	return EvidenceRef{
		ID:        uuid.New(),
		ChatID:    t.reportChatID,
		MessageID: forwarded.MessageID,
	}, nil
}

func (t *TelegramActions) SendReport(ctx context.Context, report Report) error {
	if t.reportChatID == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	language := i18n.Get("Not detected", t.reportLang)
	if report.Language != "" {
		language = i18n.GetLanguageName(report.Language)
	}
	level := i18n.Get("Deleted message", t.reportLang)
	if report.Level == "ban" {
		level = i18n.Get("Banned user", t.reportLang)
	}
	text := fmt.Sprintf(
		"%s / %s\n%s: %s\nGroup: %d\nUser: %d\nMessage: %d\nEvidence: %s",
		level, i18n.Get(report.Rule, t.reportLang),
		i18n.Get("Detected language", t.reportLang), language,
		report.GroupID, report.UserID, report.MessageID,
		report.Evidence.ID,
	)
	reply := api.NewMessage(t.reportChatID, text)
	if report.Evidence.ChatID == t.reportChatID && report.Evidence.MessageID != 0 {
		reply.ReplyParameters = api.ReplyParameters{
			ChatID:                   t.reportChatID,
			MessageID:                report.Evidence.MessageID,
			AllowSendingWithoutReply: true,
		}
	}
	reply.DisableNotification = true
	if _, err := t.bot.Send(reply); err != nil {
		return errors.WithMessage(err, "cant send report")
	}
	return nil
}

func (t *TelegramActions) FetchGroupMetadata(ctx context.Context, groupID int64) (GroupMeta, error) {
	t.cacheMu.RLock()
	cached, ok := t.metaByID[groupID]
	t.cacheMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < metadataTTL {
		return cached.meta, nil
	}

	result, err, _ := t.flight.Do(fmt.Sprintf("meta:%d", groupID), func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return GroupMeta{}, ctx.Err()
		default:
		}

		chatInfo, err := t.bot.GetChat(api.ChatInfoConfig{
			ChatConfig: api.ChatConfig{
				ChatID: groupID,
			},
		})
		if err != nil {
			return GroupMeta{}, errors.WithMessage(err, "cant get chat info")
		}

		meta := GroupMeta{
			Description:    chatInfo.Description,
			StickerSetName: chatInfo.StickerSetName,
		}
		if chatInfo.PinnedMessage != nil {
			pinned := FromAPIMessage(chatInfo.PinnedMessage)
			meta.PinnedText = pinned.Text
		}

		t.cacheMu.Lock()
		t.metaByID[groupID] = cachedMeta{meta: meta, fetchedAt: time.Now()}
		t.cacheMu.Unlock()
		return meta, nil
	})
	if err != nil {
		if ok {
			// Stale beats absent when the platform is flaky.
			return cached.meta, nil
		}
		return GroupMeta{}, err
	}
	return result.(GroupMeta), nil
}

func (t *TelegramActions) FetchStickerSetTitle(ctx context.Context, setName string) (string, error) {
	if setName == "" {
		return "", nil
	}

	t.cacheMu.RLock()
	cached, ok := t.titles[setName]
	t.cacheMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < stickerTitleTTL {
		return cached.title, nil
	}

	result, err, _ := t.flight.Do("sticker:"+setName, func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		set, err := t.bot.GetStickerSet(api.GetStickerSetConfig{Name: setName})
		if err != nil {
			return "", errors.WithMessage(err, "cant get sticker set")
		}

		t.cacheMu.Lock()
		t.titles[setName] = cachedTitle{title: set.Title, fetchedAt: time.Now()}
		t.cacheMu.Unlock()
		return set.Title, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (t *TelegramActions) FetchDisplayName(ctx context.Context, userID int64) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	member, err := t.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: t.reportChatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return "", errors.WithMessage(err, "cant get chat member")
	}
	return GetFullName(member.User), nil
}

func (t *TelegramActions) FetchAdmins(ctx context.Context, groupID int64) ([]int64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	admins, err := t.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{ChatID: groupID},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat administrators")
	}

	ids := make([]int64, 0, len(admins))
	for _, admin := range admins {
		if admin.User == nil {
			log.WithField("group_id", groupID).Warn("administrator without user")
			continue
		}
		ids = append(ids, admin.User.ID)
	}
	return ids, nil
}
