package enforcer

import (
	"context"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/iamwavecut/langwarden/internal/classifier"
	"github.com/iamwavecut/langwarden/internal/db"
	"github.com/iamwavecut/langwarden/internal/dispatch"
	errdefs "github.com/iamwavecut/langwarden/internal/errors"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/policy"
	"github.com/iamwavecut/langwarden/internal/state"
	"github.com/iamwavecut/langwarden/internal/wordlist"
)

const testGroupID = int64(100)

type fakeActions struct {
	platform.Actions

	mutex       sync.Mutex
	evidenceErr error
	forwards    int
}

func (f *fakeActions) DeleteMessage(context.Context, int64, int) error { return nil }
func (f *fakeActions) BanMember(context.Context, int64, int64) error   { return nil }
func (f *fakeActions) FetchDisplayName(context.Context, int64) (string, error) {
	return "Fake User", nil
}
func (f *fakeActions) SendReport(context.Context, platform.Report) error {
	return nil
}

func (f *fakeActions) ForwardAsEvidence(context.Context, platform.Message) (platform.EvidenceRef, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.forwards++
	if f.evidenceErr != nil {
		return platform.EvidenceRef{}, f.evidenceErr
	}
	return platform.EvidenceRef{ID: "ev-1", ChatID: -1, MessageID: 1}, nil
}

type fakeClient struct {
	db.Client

	mutex  sync.Mutex
	blocks []db.BlockRow
}

func (f *fakeClient) InsertBlockRow(_ context.Context, row db.BlockRow) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.blocks = append(f.blocks, row)
	return nil
}

func testConfig() Config {
	return Config{
		PunishWindow:    10 * time.Minute,
		NewMemberWindow: 72 * time.Hour,
		WatchTTL:        24 * time.Hour,
		ScoreStep:       1,
		ScoreThreshold:  3,
		NameLanguages:   []string{"zh", "ja", "ko"},
		LimitCount:      5,
		LimitWindow:     30 * time.Second,
	}
}

func newTestMachine(t *testing.T) (*Machine, *state.Store, *fakeActions) {
	t.Helper()
	words, err := wordlist.NewMatcher()
	if err != nil {
		t.Fatalf("cant load word lists: %v", err)
	}
	store := state.NewStore()
	actions := &fakeActions{}
	queue := dispatch.NewDispatcher()
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("cant start dispatcher: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Stop(stopCtx)
	})
	machine := NewMachine(store, state.NewMemoryDeclared(), words, actions, queue, &fakeClient{}, testConfig())
	return machine, store, actions
}

func textResult() classifier.Result {
	return classifier.Result{Category: policy.CategoryText, Language: "zh", Detail: "text"}
}

func message(id int) platform.Message {
	return platform.Message{GroupID: testGroupID, MessageID: id, UserID: 5, Fingerprint: "fp"}
}

func actor() platform.Actor {
	return platform.Actor{UserID: 5}
}

func TestTerminateNoneIsNoop(t *testing.T) {
	t.Parallel()

	machine, _, _ := newTestMachine(t)
	outcome, err := machine.Terminate(context.Background(), message(1), actor(), classifier.Result{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierNone || outcome.Deleted || outcome.Banned {
		t.Fatalf("expected a clean no-op, got %+v", outcome)
	}
}

func TestTerminateBlockedActorIsNoop(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.Block(5)
	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierBlocked || outcome.Deleted {
		t.Fatalf("expected a blocked no-op, got %+v", outcome)
	}
}

func TestTerminateBlockedForwardOriginIsNoop(t *testing.T) {
	t.Parallel()

	t.Run("forwarded from a blocked user", func(t *testing.T) {
		t.Parallel()
		machine, store, actions := newTestMachine(t)
		store.Block(999)
		msg := message(1)
		msg.ForwardUserID = 999

		outcome, err := machine.Terminate(context.Background(), msg, actor(), textResult())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Tier != TierBlocked || outcome.Deleted || outcome.Banned {
			t.Fatalf("expected a blocked no-op, got %+v", outcome)
		}
		if actions.forwards != 0 {
			t.Fatalf("a blocked origin must not gather evidence")
		}
	})

	t.Run("forwarded from a blocked channel", func(t *testing.T) {
		t.Parallel()
		machine, store, _ := newTestMachine(t)
		store.BlockChannel(-100)
		msg := message(1)
		msg.ForwardChatID = -100

		outcome, err := machine.Terminate(context.Background(), msg, actor(), textResult())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Tier != TierBlocked || outcome.Deleted {
			t.Fatalf("expected a blocked no-op, got %+v", outcome)
		}
	})
}

func TestTerminateNameImpersonation(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	result := classifier.Result{Category: policy.CategoryName, Language: "zh", Detail: "fwd", Matched: "张伟"}

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierName || !outcome.Banned || !outcome.Deleted {
		t.Fatalf("expected a name-tier ban, got %+v", outcome)
	}
	if !store.IsUserBlocked(5) {
		t.Fatalf("impersonation language must add the actor to the block list")
	}
}

func TestTerminateNameOutsideImpersonationSet(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	result := classifier.Result{Category: policy.CategoryName, Language: "ru", Detail: "sender"}

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierName || !outcome.Banned {
		t.Fatalf("expected a name-tier ban, got %+v", outcome)
	}
	if store.IsUserBlocked(5) {
		t.Fatalf("a non-impersonation language must not reach the block list")
	}
}

func TestTerminateWatchBanTier(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.SetWatch(state.TierBan, 5, time.Now().Add(time.Hour))

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierWatchBan || !outcome.Banned {
		t.Fatalf("expected the ban-tier watch to win, got %+v", outcome)
	}
	if !store.IsUserBlocked(5) {
		t.Fatalf("ban-tier watch must add the actor to the block list")
	}
}

func TestTerminateScoreOverflow(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.Ledger().AddScore(5, 1, 1)
	store.Ledger().AddScore(5, 2, 1)
	store.Ledger().AddScore(5, 3, 1)

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierScore || !outcome.Banned {
		t.Fatalf("expected the score threshold to trigger a ban, got %+v", outcome)
	}
	if got := store.Ledger().TotalScore(5); got != 3 {
		t.Fatalf("the score ban must not touch the ledger, got %v", got)
	}
}

func TestTerminateWatchDeletePromotes(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.SetWatch(state.TierDelete, 5, time.Now().Add(time.Hour))

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierWatchDelete || outcome.Banned || !outcome.Deleted {
		t.Fatalf("expected a delete with promotion, got %+v", outcome)
	}
	if !store.Watched(state.TierBan, 5) {
		t.Fatalf("expected promotion to the ban-tier watch list")
	}
	if got := store.Ledger().TotalScore(5); got != 1 {
		t.Fatalf("expected one score contribution, got %v", got)
	}
}

func TestTerminateNewcomerUpgrade(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.Ledger().RecordJoin(testGroupID, 5)

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierUpgrade || !outcome.Deleted || outcome.Banned {
		t.Fatalf("expected a watch upgrade for a fresh member, got %+v", outcome)
	}
	if !store.Watched(state.TierBan, 5) {
		t.Fatalf("expected the newcomer on the ban-tier watch list")
	}
}

func TestTerminateRecordedRepeat(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.Record(testGroupID, 5)

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierRecorded || !outcome.Deleted || outcome.Banned {
		t.Fatalf("expected a delete-only repeat, got %+v", outcome)
	}
	if got := store.Ledger().TotalScore(5); got != 0 {
		t.Fatalf("a recorded repeat must not add score, got %v", got)
	}
}

func TestTerminateForcedCachedResult(t *testing.T) {
	t.Parallel()

	machine, _, _ := newTestMachine(t)
	result := classifier.Result{Category: policy.CategoryCached, Detail: classifier.DetailUnknown}

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierRecorded || !outcome.Deleted {
		t.Fatalf("expected the forced result to delete without escalation, got %+v", outcome)
	}
}

func TestTerminateForcedCachedResultSkipsNameBan(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	msg := message(1)
	msg.SenderName = "Admin Team 2024"
	result := classifier.Result{Category: policy.CategoryCached, Detail: classifier.DetailUnknown}

	outcome, err := machine.Terminate(context.Background(), msg, actor(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierRecorded || !outcome.Deleted || outcome.Banned {
		t.Fatalf("a replayed verdict must delete without escalation, got %+v", outcome)
	}
	if store.IsUserBlocked(5) {
		t.Fatalf("a replayed verdict must not reach the block list")
	}
}

func TestTerminateNewcomerViaBotStaysFirstOffense(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	store.Ledger().RecordJoin(testGroupID, 5)
	result := classifier.Result{Category: policy.CategoryVia, Language: "zh", Detail: "via Spam Bot"}

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierFirst || !outcome.Deleted || outcome.Banned {
		t.Fatalf("a via-bot hit must not upgrade a newcomer, got %+v", outcome)
	}
	if store.Watched(state.TierBan, 5) {
		t.Fatalf("a via-bot hit must not put the newcomer on the ban-tier watch list")
	}
}

func TestTerminateFirstOffense(t *testing.T) {
	t.Parallel()

	machine, store, actions := newTestMachine(t)

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierFirst || !outcome.Deleted || outcome.Banned {
		t.Fatalf("expected a first-offense delete, got %+v", outcome)
	}
	if outcome.Evidence.ID == "" {
		t.Fatalf("a first offense must gather evidence")
	}
	if !store.Recorded(testGroupID, 5) {
		t.Fatalf("expected the actor in the recorded set")
	}
	if got := store.Ledger().TotalScore(5); got != 1 {
		t.Fatalf("expected one score contribution, got %v", got)
	}
	if actions.forwards != 1 {
		t.Fatalf("expected exactly one evidence forward, got %d", actions.forwards)
	}

	if _, ok := store.CachedContent("fp"); !ok {
		t.Fatalf("a condemned message must land in the content cache")
	}
}

func TestTerminateIdempotentUnderDuplicateDelivery(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	msg := message(1)

	first, err := machine.Terminate(context.Background(), msg, actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Tier != TierFirst {
		t.Fatalf("expected the first delivery to enforce, got %v", first.Tier)
	}

	second, err := machine.Terminate(context.Background(), msg, actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Tier != TierHandled || second.Deleted {
		t.Fatalf("duplicate delivery must be a no-op, got %+v", second)
	}
	if got := store.Ledger().TotalScore(5); got != 1 {
		t.Fatalf("duplicate delivery must not add score, got %v", got)
	}
}

func TestTerminateEvidenceFailureWithholdsEnforcement(t *testing.T) {
	t.Parallel()

	machine, store, actions := newTestMachine(t)
	actions.evidenceErr = pkgerrors.New("api down")

	outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if !pkgerrors.Is(err, errdefs.ErrEvidenceFailed) {
		t.Fatalf("expected an evidence failure, got %v", err)
	}
	if outcome.Deleted || outcome.Banned {
		t.Fatalf("no destructive action without evidence, got %+v", outcome)
	}
	if store.Recorded(testGroupID, 5) {
		t.Fatalf("a withheld enforcement must not mutate the ledger")
	}

	// The message stays claimable for a later, successful attempt.
	actions.evidenceErr = nil
	retried, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if retried.Tier != TierFirst || !retried.Deleted {
		t.Fatalf("expected the retry to enforce, got %+v", retried)
	}
}

func TestTerminateNonTextCategories(t *testing.T) {
	t.Parallel()

	result := classifier.Result{Category: policy.CategoryURL, Detail: string(policy.CategoryText)}

	t.Run("first occurrence gathers evidence", func(t *testing.T) {
		t.Parallel()
		machine, store, _ := newTestMachine(t)
		outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Tier != TierFirst || !outcome.Deleted || outcome.Banned {
			t.Fatalf("expected an evidence-backed delete, got %+v", outcome)
		}
		if !store.Recorded(testGroupID, 5) {
			t.Fatalf("expected the actor in the recorded set")
		}
		if got := store.Ledger().TotalScore(5); got != 0 {
			t.Fatalf("non-text enforcement must not add score, got %v", got)
		}
	})

	t.Run("recorded actor gets a plain delete", func(t *testing.T) {
		t.Parallel()
		machine, store, actions := newTestMachine(t)
		store.Record(testGroupID, 5)
		outcome, err := machine.Terminate(context.Background(), message(1), actor(), result)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Tier != TierRecorded || !outcome.Deleted {
			t.Fatalf("expected a delete-only repeat, got %+v", outcome)
		}
		if actions.forwards != 0 {
			t.Fatalf("a recorded repeat must not forward evidence")
		}
	})
}

func TestTerminateAbusiveName(t *testing.T) {
	t.Parallel()

	machine, store, _ := newTestMachine(t)
	msg := message(1)
	msg.SenderName = "Admin Team 2024"

	outcome, err := machine.Terminate(context.Background(), msg, actor(), textResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Tier != TierAbusiveName || !outcome.Banned {
		t.Fatalf("expected an abusive-name ban, got %+v", outcome)
	}
	if !store.IsUserBlocked(5) {
		t.Fatalf("an abusive name must add the actor to the block list")
	}
}

func TestTerminatePrecedenceIsDeterministic(t *testing.T) {
	t.Parallel()

	// Ban-tier watch and recorded set are both satisfied; the watch tier sits
	// higher and must always win.
	for i := 0; i < 3; i++ {
		machine, store, _ := newTestMachine(t)
		store.SetWatch(state.TierBan, 5, time.Now().Add(time.Hour))
		store.Record(testGroupID, 5)

		outcome, err := machine.Terminate(context.Background(), message(1), actor(), textResult())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Tier != TierWatchBan {
			t.Fatalf("expected the watch tier to win every time, got %v", outcome.Tier)
		}
	}
}
