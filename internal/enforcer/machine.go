package enforcer

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/classifier"
	"github.com/iamwavecut/langwarden/internal/db"
	"github.com/iamwavecut/langwarden/internal/dispatch"
	errdefs "github.com/iamwavecut/langwarden/internal/errors"
	"github.com/iamwavecut/langwarden/internal/observability"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/policy"
	"github.com/iamwavecut/langwarden/internal/state"
	"github.com/iamwavecut/langwarden/internal/wordlist"
)

// Enforcement tiers, in precedence order.
const (
	TierNone        = "none"
	TierBlocked     = "blocked"
	TierHandled     = "handled"
	TierName        = "name"
	TierAbusiveName = "abusive_name"
	TierWatchBan    = "watch_ban"
	TierScore       = "score"
	TierWatchDelete = "watch_delete"
	TierUpgrade     = "upgrade"
	TierRecorded    = "recorded"
	TierFirst       = "first"
)

const (
	LevelBan    = "ban"
	LevelDelete = "delete"
)

// Outcome describes what the machine decided and set in motion for one
// message. Destructive actions are dispatched asynchronously; Banned and
// Deleted report intent, not confirmation.
type Outcome struct {
	Tier     string
	Banned   bool
	Deleted  bool
	Evidence platform.EvidenceRef
}

// Config carries the escalation timing and scoring knobs.
type Config struct {
	PunishWindow    time.Duration
	NewMemberWindow time.Duration
	WatchTTL        time.Duration
	ScoreStep       float64
	ScoreThreshold  float64
	NameLanguages   []string
	LimitCount      int
	LimitWindow     time.Duration
}

// Machine decides and applies enforcement for classified messages. Rules are
// evaluated top-down in strict precedence; the first applicable rule wins and
// the rest are never consulted.
type Machine struct {
	store    *state.Store
	declared state.Declared
	words    *wordlist.Matcher
	actions  platform.Actions
	queue    *dispatch.Dispatcher
	client   db.Client
	cfg      Config
}

func NewMachine(
	store *state.Store,
	declared state.Declared,
	words *wordlist.Matcher,
	actions platform.Actions,
	queue *dispatch.Dispatcher,
	client db.Client,
	cfg Config,
) *Machine {
	return &Machine{
		store:    store,
		declared: declared,
		words:    words,
		actions:  actions,
		queue:    queue,
		client:   client,
		cfg:      cfg,
	}
}

// Terminate runs the escalation state machine once for the message. It is
// idempotent under duplicate delivery: the handled-mark claim guarantees at
// most one destructive enforcement and one ledger mutation per message.
func (m *Machine) Terminate(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	if result.None() {
		return Outcome{Tier: TierNone}, nil
	}
	if m.store.IsBlocked(msg) {
		return Outcome{Tier: TierBlocked}, nil
	}

	outcome, err := m.applyRules(ctx, msg, actor, result)
	if err != nil {
		return outcome, err
	}
	if outcome.Deleted || outcome.Banned {
		m.rememberCondemned(msg, result)
	}
	observability.RecordEnforcement(outcome.Tier)
	return outcome, nil
}

func (m *Machine) applyRules(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	if !result.Category.Textual() && result.Category != policy.CategorySpC && result.Category != policy.CategorySpE && !m.forced(result) {
		return m.applyNonText(ctx, msg, actor, result)
	}

	switch {
	case result.Category == policy.CategoryName:
		return m.applyName(ctx, msg, actor, result)
	case abusiveNameApplies(result) && m.hasAbusiveName(msg):
		return m.banish(ctx, msg, actor, result, TierAbusiveName)
	case m.store.Watched(state.TierBan, actor.UserID):
		return m.banish(ctx, msg, actor, result, TierWatchBan)
	case m.store.Ledger().TotalScore(actor.UserID) >= m.cfg.ScoreThreshold:
		return m.banish(ctx, msg, actor, result, TierScore)
	case m.store.Watched(state.TierDelete, actor.UserID):
		return m.upgradeWatch(ctx, msg, actor, result, TierWatchDelete)
	case m.isSuspectNewcomer(msg, actor, result):
		return m.upgradeWatch(ctx, msg, actor, result, TierUpgrade)
	case m.alreadyRecorded(msg, actor, result):
		return m.deleteRecorded(ctx, msg, actor, result)
	default:
		return m.firstOffense(ctx, msg, actor, result)
	}
}

// applyName handles impersonation: a display name in a restricted language.
// The ban always applies; the block list entry and report level depend on
// whether the language sits in the impersonation set.
func (m *Machine) applyName(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	evidence, err := m.gatherEvidence(ctx, msg)
	if err != nil {
		return Outcome{Tier: TierName}, err
	}
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchBan(msg, actor)
	m.dispatchDelete(msg, actor)
	level := LevelDelete
	if m.isImpersonationLanguage(result.Language.String()) {
		level = LevelBan
		m.addToBlockList(ctx, actor.UserID)
	}
	m.dispatchReport(msg, actor, result, level, evidence)
	return Outcome{Tier: TierName, Banned: true, Deleted: true, Evidence: evidence}, nil
}

// banish covers the unconditional ban tiers: abusive name, ban-tier watch and
// score overflow. No ledger mutation beyond the block list.
func (m *Machine) banish(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result, tier string) (Outcome, error) {
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchBan(msg, actor)
	m.dispatchDelete(msg, actor)
	m.addToBlockList(ctx, actor.UserID)
	m.dispatchReport(msg, actor, result, LevelBan, platform.EvidenceRef{})
	return Outcome{Tier: tier, Banned: true, Deleted: true}, nil
}

// upgradeWatch deletes the message and promotes the actor to the ban-tier
// watch list. Score is contributed only on the actor's first detection in
// this group.
func (m *Machine) upgradeWatch(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result, tier string) (Outcome, error) {
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchDelete(msg, actor)
	m.store.SetWatch(state.TierBan, actor.UserID, time.Now().Add(m.cfg.WatchTTL))
	previously := m.store.Ledger().RecordDetection(msg.GroupID, actor.UserID)
	if !previously {
		m.store.Ledger().AddScore(actor.UserID, msg.GroupID, m.cfg.ScoreStep)
	}
	m.dispatchReport(msg, actor, result, LevelDelete, platform.EvidenceRef{})
	return Outcome{Tier: tier, Deleted: true}, nil
}

// deleteRecorded handles repeat lesser offenses inside the recorded or
// cooldown window: delete only, timestamp refresh, no score.
func (m *Machine) deleteRecorded(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchDelete(msg, actor)
	m.store.Ledger().RecordDetection(msg.GroupID, actor.UserID)
	return Outcome{Tier: TierRecorded, Deleted: true}, nil
}

// firstOffense is the default tier: evidence, delete, recorded-set add, and a
// first-detection-gated score contribution.
func (m *Machine) firstOffense(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	evidence, err := m.gatherEvidence(ctx, msg)
	if err != nil {
		return Outcome{Tier: TierFirst}, err
	}
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchDelete(msg, actor)
	m.store.Record(msg.GroupID, actor.UserID)
	previously := m.store.Ledger().RecordDetection(msg.GroupID, actor.UserID)
	if !previously {
		m.store.Ledger().AddScore(actor.UserID, msg.GroupID, m.cfg.ScoreStep)
	}
	m.dispatchReport(msg, actor, result, LevelDelete, evidence)
	return Outcome{Tier: TierFirst, Deleted: true, Evidence: evidence}, nil
}

// applyNonText covers cache replays, condemned links and stickers: delete
// without escalation, with evidence only for the first occurrence per user.
func (m *Machine) applyNonText(ctx context.Context, msg platform.Message, actor platform.Actor, result classifier.Result) (Outcome, error) {
	if m.store.Recorded(msg.GroupID, actor.UserID) {
		if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
			return Outcome{Tier: TierHandled}, nil
		}
		m.dispatchDelete(msg, actor)
		return Outcome{Tier: TierRecorded, Deleted: true}, nil
	}
	evidence, err := m.gatherEvidence(ctx, msg)
	if err != nil {
		return Outcome{Tier: TierFirst}, err
	}
	if !m.declared.TryClaim(ctx, msg.GroupID, msg.MessageID) {
		return Outcome{Tier: TierHandled}, nil
	}
	m.dispatchDelete(msg, actor)
	m.store.Record(msg.GroupID, actor.UserID)
	m.dispatchReport(msg, actor, result, LevelDelete, evidence)
	return Outcome{Tier: TierFirst, Deleted: true, Evidence: evidence}, nil
}

// gatherEvidence forwards an audit copy before any destructive action. A
// failure here withholds enforcement entirely rather than destroying the only
// copy of the evidence.
func (m *Machine) gatherEvidence(ctx context.Context, msg platform.Message) (platform.EvidenceRef, error) {
	evidence, err := m.actions.ForwardAsEvidence(ctx, msg)
	if err != nil {
		log.WithError(err).WithField("group_id", msg.GroupID).WithField("message_id", msg.MessageID).
			Error("cant gather evidence, withholding enforcement")
		return platform.EvidenceRef{}, errors.WithMessage(errdefs.ErrEvidenceFailed, err.Error())
	}
	return evidence, nil
}

func (m *Machine) dispatchBan(msg platform.Message, actor platform.Actor) {
	groupID := msg.GroupID
	userID := actor.UserID
	m.queue.Enqueue(dispatch.Task{
		Name:   "ban",
		UserID: userID,
		Run: func(ctx context.Context) error {
			return m.actions.BanMember(ctx, groupID, userID)
		},
	})
}

func (m *Machine) dispatchDelete(msg platform.Message, actor platform.Actor) {
	groupID := msg.GroupID
	messageID := msg.MessageID
	m.queue.Enqueue(dispatch.Task{
		Name:   "delete",
		UserID: actor.UserID,
		Run: func(ctx context.Context) error {
			return m.actions.DeleteMessage(ctx, groupID, messageID)
		},
	})
}

func (m *Machine) dispatchReport(msg platform.Message, actor platform.Actor, result classifier.Result, level string, evidence platform.EvidenceRef) {
	report := platform.Report{
		GroupID:   msg.GroupID,
		UserID:    actor.UserID,
		MessageID: msg.MessageID,
		Level:     level,
		Rule:      ruleName(result),
		Language:  result.Language.String(),
		Evidence:  evidence,
	}
	m.queue.Enqueue(dispatch.Task{
		Name:   "report",
		UserID: actor.UserID,
		Run: func(ctx context.Context) error {
			return m.actions.SendReport(ctx, report)
		},
	})
}

func (m *Machine) addToBlockList(ctx context.Context, userID int64) {
	m.store.Block(userID)
	row := db.BlockRow{Kind: state.BlockKindUser, EntryID: userID}
	if err := m.client.InsertBlockRow(ctx, row); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("cant persist block entry")
	}
	name, err := m.actions.FetchDisplayName(ctx, userID)
	if err != nil {
		name = "unknown"
	}
	log.WithField("user_id", userID).WithField("name", name).Info("added to block list")
}

// abusiveNameApplies restricts the abusive-name tier to body-text and
// special-character detections; cooldown replays and other carriers never
// escalate a name match into a ban.
func abusiveNameApplies(result classifier.Result) bool {
	switch result.Category {
	case policy.CategoryText, policy.CategorySpC, policy.CategorySpE:
		return true
	}
	return false
}

// hasAbusiveName checks the forward-origin and sender display names against
// the abusive-name word list, skipping except-listed names.
func (m *Machine) hasAbusiveName(msg platform.Message) bool {
	for _, name := range []string{msg.ForwardName, msg.SenderName} {
		if name == "" || m.store.IsNameExcept(name) {
			continue
		}
		if _, ok := m.words.Match(wordlist.ListWB, name); ok {
			return true
		}
	}
	return false
}

// isSuspectNewcomer reports whether a fresh or flooding member produced a
// detection in an impersonation-set language, warranting a watch upgrade
// instead of a plain first-offense pass. Cache replays carry no language and
// never qualify; neither do detections that already carry their own
// qualifier, like the via-bot name.
func (m *Machine) isSuspectNewcomer(msg platform.Message, actor platform.Actor, result classifier.Result) bool {
	if result.Detail == classifier.DetailUnknown || result.Language == "" {
		return false
	}
	if result.Category == policy.CategoryVia {
		return false
	}
	if !m.isImpersonationLanguage(result.Language.String()) {
		return false
	}
	if m.store.Ledger().JoinedWithin(actor.UserID, m.cfg.NewMemberWindow) {
		return true
	}
	return m.store.IsLimited(msg.GroupID, actor.UserID, m.cfg.LimitCount, m.cfg.LimitWindow)
}

func (m *Machine) alreadyRecorded(msg platform.Message, actor platform.Actor, result classifier.Result) bool {
	if m.forced(result) {
		return true
	}
	if m.store.Recorded(msg.GroupID, actor.UserID) {
		return true
	}
	return m.store.Ledger().DetectedWithin(msg.GroupID, actor.UserID, m.cfg.PunishWindow)
}

// forced marks cooldown replays, which skip straight to the recorded tier.
func (m *Machine) forced(result classifier.Result) bool {
	return result.Category == policy.CategoryCached && result.Detail == classifier.DetailUnknown
}

func (m *Machine) isImpersonationLanguage(code string) bool {
	for _, lang := range m.cfg.NameLanguages {
		if strings.EqualFold(lang, code) {
			return true
		}
	}
	return false
}

// rememberCondemned records the message's fingerprint and links so future
// republications short-circuit in the pipeline's cache steps.
func (m *Machine) rememberCondemned(msg platform.Message, result classifier.Result) {
	detail := string(result.Category)
	if result.Category == policy.CategoryCached && result.Detail != classifier.DetailUnknown {
		detail = result.Detail
	}
	m.store.RememberContent(msg.Fingerprint, detail)
	for _, link := range msg.Links {
		m.store.RememberLink(link, detail)
	}
}

func ruleName(result classifier.Result) string {
	switch result.Category {
	case policy.CategoryName:
		return "Suspicious name"
	case policy.CategorySpC:
		return "Unreadable character flood"
	case policy.CategorySpE:
		return "Stylized character spam"
	case policy.CategoryURL:
		return "Recorded link"
	case policy.CategoryCached:
		return "Recorded content"
	case policy.CategorySticker:
		return "Restricted language detected"
	default:
		return "Restricted language detected"
	}
}
