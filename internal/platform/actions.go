package platform

import (
	"context"
	"time"
)

type (
	// Message is the extracted, comparable view of an inbound group message.
	// It is produced once at the ingestion boundary and never mutated.
	Message struct {
		GroupID   int64
		MessageID int
		UserID    int64
		Date      time.Time

		Text        string
		Fingerprint string
		Links       []string

		SenderName string
		Filename   string
		GameTitle  string
		ViaBotName string

		ForwardUserID int64
		ForwardChatID int64
		ForwardName   string

		HasSticker     bool
		StickerSetName string
	}

	// Actor carries the sender's identity attributes.
	Actor struct {
		UserID      int64
		DisplayName string
		IsBot       bool
		IsSelf      bool
	}

	// GroupMeta is administrator-authored group metadata used for the
	// classification bypass and the official-sticker check.
	GroupMeta struct {
		Description    string
		PinnedText     string
		StickerSetName string
	}

	// EvidenceRef points at the forwarded audit copy of a message.
	EvidenceRef struct {
		ID        string
		ChatID    int64
		MessageID int
	}

	// Report is the structured moderator notice posted alongside evidence.
	Report struct {
		GroupID   int64
		UserID    int64
		MessageID int
		Level     string
		Rule      string
		Language  string
		Evidence  EvidenceRef
	}
)

// Actions is the platform collaborator boundary. Implementations must apply
// bounded timeouts; a timeout is "action not confirmed", never a crash.
type Actions interface {
	DeleteMessage(ctx context.Context, groupID int64, messageID int) error
	BanMember(ctx context.Context, groupID, userID int64) error
	ForwardAsEvidence(ctx context.Context, msg Message) (EvidenceRef, error)
	SendReport(ctx context.Context, report Report) error
	FetchGroupMetadata(ctx context.Context, groupID int64) (GroupMeta, error)
	FetchStickerSetTitle(ctx context.Context, setName string) (string, error)
	FetchDisplayName(ctx context.Context, userID int64) (string, error)
	FetchAdmins(ctx context.Context, groupID int64) ([]int64, error)
}
