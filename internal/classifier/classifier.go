package classifier

import (
	"context"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/langwarden/internal/detect"
	"github.com/iamwavecut/langwarden/internal/observability"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/policy"
	"github.com/iamwavecut/langwarden/internal/state"
	"github.com/iamwavecut/langwarden/internal/wordlist"
)

// DetailUnknown marks a cached result whose originating category was not
// recorded, e.g. a repeat offender inside the punish cooldown.
const DetailUnknown = "unknown"

// Result is the outcome of classifying one message.
type Result struct {
	Category policy.Category
	Language detect.Code
	Detail   string
	Matched  string
}

// None reports whether the message passed clean.
func (r Result) None() bool {
	return r.Category == policy.CategoryNone
}

// Pipeline classifies messages through a fixed, short-circuiting sequence of
// checks, cheapest and most certain first. It never mutates shared state
// beyond caches and hit counters; enforcement decisions belong to the
// escalation machine.
type Pipeline struct {
	store   *state.Store
	matcher *policy.Matcher
	words   *wordlist.Matcher
	actions platform.Actions
	punish  time.Duration
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

func NewPipeline(store *state.Store, matcher *policy.Matcher, words *wordlist.Matcher, actions platform.Actions, punish time.Duration) *Pipeline {
	return &Pipeline{
		store:   store,
		matcher: matcher,
		words:   words,
		actions: actions,
		punish:  punish,
	}
}

// Classify runs the ordered pipeline for one message. Detector and
// collaborator failures degrade to "no match" for their step; they never
// abort the message.
func (p *Pipeline) Classify(ctx context.Context, msg platform.Message, actor platform.Actor) Result {
	ctx, span := otel.Tracer("classifier").Start(ctx, "classify")
	defer span.End()
	span.SetAttributes(attribute.Int64("group_id", msg.GroupID), attribute.Int64("user_id", actor.UserID))

	result := p.classify(ctx, msg, actor)
	observability.RecordClassification(string(result.Category))
	span.SetAttributes(attribute.String("category", string(result.Category)))
	return result
}

func (p *Pipeline) classify(ctx context.Context, msg platform.Message, actor platform.Actor) Result {
	if p.store.IsPrivileged(actor, msg.GroupID) || p.store.IsAdminAnywhere(actor.UserID) {
		return Result{}
	}

	if p.store.IsExempt(msg) {
		return Result{}
	}

	if p.store.Ledger().DetectedWithin(msg.GroupID, actor.UserID, p.punish) {
		return Result{Category: policy.CategoryCached, Detail: DetailUnknown}
	}

	if detail, ok := p.store.CachedContent(msg.Fingerprint); ok {
		if p.cachedCategoryEnabled(ctx, msg.GroupID, detail) {
			return Result{Category: policy.CategoryCached, Detail: detail}
		}
	}

	for _, link := range msg.Links {
		detail, ok := p.store.CachedLink(link)
		if !ok {
			continue
		}
		if p.cachedCategoryEnabled(ctx, msg.GroupID, detail) {
			return Result{Category: policy.CategoryURL, Detail: detail, Matched: link}
		}
	}

	if result, ok := p.classifyNames(ctx, msg); ok {
		return result
	}

	if p.isAdministrativeText(ctx, msg) {
		return Result{}
	}

	if result, ok := p.classifyText(ctx, msg); ok {
		return result
	}

	normalized := strings.TrimSpace(whitespaceRuns.ReplaceAllString(msg.Text, " "))
	if normalized != "" {
		if p.matcher.Enabled(ctx, msg.GroupID, policy.CategorySpC) {
			if raw, ok := p.words.Match(wordlist.ListSpC, normalized); ok {
				return Result{Category: policy.CategorySpC, Matched: raw}
			}
		}
		if p.matcher.Enabled(ctx, msg.GroupID, policy.CategorySpE) {
			if raw, ok := p.words.Match(wordlist.ListSpE, normalized); ok {
				return Result{Category: policy.CategorySpE, Matched: raw}
			}
		}
	}

	if result, ok := p.classifySticker(ctx, msg); ok {
		return result
	}

	return Result{}
}

// classifyNames checks the forward-origin display name first, then the sender
// name. Impersonation is treated as higher-confidence abuse than body text, so
// this runs before any content check. Except-listed names are skipped.
func (p *Pipeline) classifyNames(ctx context.Context, msg platform.Message) (Result, bool) {
	candidates := []struct {
		name   string
		detail string
	}{
		{name: msg.ForwardName, detail: "fwd"},
		{name: msg.SenderName, detail: "sender"},
	}
	for _, candidate := range candidates {
		if candidate.name == "" || p.store.IsNameExcept(candidate.name) {
			continue
		}
		code, matched, err := p.matcher.MatchLanguage(ctx, msg.GroupID, policy.CategoryName, candidate.name)
		if err != nil {
			log.WithError(err).Debug("name language check failed, skipping")
			continue
		}
		if matched {
			return Result{Category: policy.CategoryName, Language: code, Detail: candidate.detail, Matched: candidate.name}, true
		}
	}
	return Result{}, false
}

// isAdministrativeText reports whether the message body equals the group's
// description or pinned message, which bots and admins routinely repost.
func (p *Pipeline) isAdministrativeText(ctx context.Context, msg platform.Message) bool {
	normalized := strings.TrimSpace(whitespaceRuns.ReplaceAllString(msg.Text, " "))
	if normalized == "" {
		return false
	}
	meta, err := p.actions.FetchGroupMetadata(ctx, msg.GroupID)
	if err != nil {
		log.WithError(err).WithField("group_id", msg.GroupID).Debug("cant fetch group metadata, skipping bypass")
		return false
	}
	for _, adminText := range []string{meta.Description, meta.PinnedText} {
		if adminText == "" {
			continue
		}
		if normalized == strings.TrimSpace(whitespaceRuns.ReplaceAllString(adminText, " ")) {
			return true
		}
	}
	return false
}

func (p *Pipeline) classifyText(ctx context.Context, msg platform.Message) (Result, bool) {
	fragments := []struct {
		category policy.Category
		text     string
		detail   string
	}{
		{category: policy.CategoryText, text: msg.Text, detail: "text"},
		{category: policy.CategoryFilename, text: msg.Filename, detail: "filename"},
		{category: policy.CategoryGame, text: msg.GameTitle, detail: "game"},
		{category: policy.CategoryVia, text: msg.ViaBotName, detail: "via " + msg.ViaBotName},
	}
	for _, fragment := range fragments {
		if fragment.text == "" {
			continue
		}
		code, matched, err := p.matcher.MatchLanguage(ctx, msg.GroupID, fragment.category, fragment.text)
		if err != nil {
			log.WithError(err).Debug("text language check failed, skipping")
			continue
		}
		if matched {
			return Result{Category: fragment.category, Language: code, Detail: fragment.detail, Matched: fragment.text}, true
		}
	}
	return Result{}, false
}

// classifySticker lets a group's official sticker set through and otherwise
// judges the set title the way body text is judged.
func (p *Pipeline) classifySticker(ctx context.Context, msg platform.Message) (Result, bool) {
	if !msg.HasSticker || !p.matcher.Enabled(ctx, msg.GroupID, policy.CategorySticker) {
		return Result{}, false
	}
	if msg.StickerSetName != "" {
		if meta, err := p.actions.FetchGroupMetadata(ctx, msg.GroupID); err == nil && meta.StickerSetName == msg.StickerSetName {
			return Result{}, false
		}
	}
	title, err := p.actions.FetchStickerSetTitle(ctx, msg.StickerSetName)
	if err != nil {
		log.WithError(err).WithField("set", msg.StickerSetName).Debug("cant resolve sticker set title")
		return Result{}, false
	}
	code, matched, err := p.matcher.MatchLanguage(ctx, msg.GroupID, policy.CategorySticker, title)
	if err != nil || !matched {
		return Result{}, false
	}
	return Result{Category: policy.CategorySticker, Language: code, Detail: msg.StickerSetName, Matched: title}, true
}

func (p *Pipeline) cachedCategoryEnabled(ctx context.Context, groupID int64, detail string) bool {
	category := policy.Category(detail)
	if !category.Valid() {
		return true
	}
	return p.matcher.Enabled(ctx, groupID, category)
}
