package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

var linkPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bt\.me/[^\s<>"]+`)

// FromAPIMessage flattens a raw update message into the comparable surfaces
// the classifier works on.
func FromAPIMessage(msg *api.Message) Message {
	if msg == nil {
		return Message{}
	}

	m := Message{
		GroupID:   msg.Chat.ID,
		MessageID: msg.MessageID,
		Date:      time.Unix(int64(msg.Date), 0),
		Text:      strings.TrimSpace(strings.TrimSpace(msg.Text) + " " + strings.TrimSpace(msg.Caption)),
	}
	if msg.From != nil {
		m.UserID = msg.From.ID
		m.SenderName = GetFullName(msg.From)
	}
	if msg.Document != nil {
		m.Filename = msg.Document.FileName
	}
	if msg.Game != nil {
		m.GameTitle = msg.Game.Title
	}
	if msg.ViaBot != nil {
		m.ViaBotName = GetFullName(msg.ViaBot)
	}
	if origin := msg.ForwardOrigin; origin != nil {
		switch {
		case origin.SenderUser != nil:
			m.ForwardUserID = origin.SenderUser.ID
			m.ForwardName = GetFullName(origin.SenderUser)
		case origin.SenderChat != nil:
			m.ForwardChatID = origin.SenderChat.ID
			m.ForwardName = origin.SenderChat.Title
		case origin.Chat != nil:
			m.ForwardChatID = origin.Chat.ID
			m.ForwardName = origin.Chat.Title
		default:
			m.ForwardName = origin.SenderUserName
		}
	}
	if msg.Sticker != nil {
		m.HasSticker = true
		m.StickerSetName = msg.Sticker.SetName
	}

	m.Links = extractLinks(msg, m.Text)
	m.Fingerprint = fingerprint(msg, m.Text)

	return m
}

func ActorFromUser(user *api.User, selfID int64) Actor {
	if user == nil {
		return Actor{}
	}
	return Actor{
		UserID:      user.ID,
		DisplayName: GetFullName(user),
		IsBot:       user.IsBot,
		IsSelf:      user.ID == selfID,
	}
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

func extractLinks(msg *api.Message, text string) []string {
	seen := map[string]struct{}{}
	var links []string
	add := func(link string) {
		link = strings.TrimRight(link, ".,;:!?)")
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	for _, entity := range append(msg.Entities, msg.CaptionEntities...) {
		if entity.Type == "text_link" && entity.URL != "" {
			add(entity.URL)
		}
	}
	for _, link := range linkPattern.FindAllString(text, -1) {
		add(link)
	}
	return links
}

// fingerprint identifies the message content, not the message instance, so
// identical spam forwarded across groups shares one cache record.
func fingerprint(msg *api.Message, text string) string {
	var parts []string
	if text != "" {
		parts = append(parts, text)
	}
	if msg.Sticker != nil {
		parts = append(parts, "sticker:"+msg.Sticker.FileUniqueID)
	}
	if msg.Document != nil {
		parts = append(parts, "document:"+msg.Document.FileUniqueID)
	}
	if len(msg.Photo) > 0 {
		parts = append(parts, "photo:"+msg.Photo[len(msg.Photo)-1].FileUniqueID)
	}
	if msg.Video != nil {
		parts = append(parts, "video:"+msg.Video.FileUniqueID)
	}
	if len(parts) == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
