package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

// recordingNotifier captures emitted events so tests can assert on exactly
// what was pushed and to whom.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	recipients []string
	event      CallEvent
}

func (n *recordingNotifier) Notify(recipients []string, event CallEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{recipients: recipients, event: event})
}

func (n *recordingNotifier) ofType(eventType string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matched []recordedEvent
	for _, e := range n.events {
		if e.event.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func TestBillingTicksChargeUntilFundsRunOut(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 10)
	coachID := createTestCoach(t, ctx, pool, 3)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeAudio)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	exhaustExemptions(t, ctx, pool, call)

	if _, err := calls.Accept(ctx, coach, call.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	wantTotals := []struct {
		minutes int
		amount  float64
		balance float64
	}{
		{1, 3, 7},
		{2, 6, 4},
		{3, 9, 1},
	}
	for i, want := range wantTotals {
		if i > 0 {
			rewindAnchor(t, ctx, pool, call.ID, time.Minute)
		}
		result, err := billing.Tick(ctx, client, call.ID)
		if err != nil {
			t.Fatalf("Tick %d: %v", i+1, err)
		}
		if !result.Charged {
			t.Fatalf("Tick %d: expected a charged minute, got %+v", i+1, result)
		}
		if result.DurationMinutes != want.minutes || result.TotalAmount != want.amount {
			t.Fatalf("Tick %d: totals = (%d, %.2f), want (%d, %.2f)",
				i+1, result.DurationMinutes, result.TotalAmount, want.minutes, want.amount)
		}
		if result.RemainingBalance != want.balance {
			t.Fatalf("Tick %d: remaining = %.2f, want %.2f", i+1, result.RemainingBalance, want.balance)
		}
	}

	// Fourth minute: 1 left at rate 3. The tick reports the outcome instead of
	// erroring and the totals stay frozen at the last fully billed minute.
	rewindAnchor(t, ctx, pool, call.ID, time.Minute)
	result, err := billing.Tick(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("final Tick: %v", err)
	}
	if !result.InsufficientFunds || !result.SessionEnded || result.CanContinue {
		t.Fatalf("expected insufficient-funds termination, got %+v", result)
	}
	if result.DurationMinutes != 3 || result.TotalAmount != 9 {
		t.Fatalf("frozen totals = (%d, %.2f), want (3, 9.00)", result.DurationMinutes, result.TotalAmount)
	}

	final, err := repository.NewCallRepository(pool).GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("reload call: %v", err)
	}
	if final.Status != models.CallStatusCompleted {
		t.Fatalf("status = %q, want completed", final.Status)
	}
	if final.EndReason == nil || *final.EndReason != models.EndReasonInsufficientFunds {
		t.Fatalf("end reason = %v, want insufficient_funds", final.EndReason)
	}

	balance, err := repository.NewWalletRepository(pool).Balance(ctx, models.AccountKindRegistered, clientID)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 1 {
		t.Fatalf("leftover balance = %.2f, want 1.00", balance)
	}

	// A tick on the terminal call must not re-open or re-charge it.
	if _, err := billing.Tick(ctx, client, call.ID); err != ErrInvalidState {
		t.Fatalf("tick after termination: %v, want ErrInvalidState", err)
	}
}

func TestDuplicateTickDoesNotDoubleCharge(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 10)
	coachID := createTestCoach(t, ctx, pool, 3)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeAudio)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	exhaustExemptions(t, ctx, pool, call)

	if _, err := calls.Accept(ctx, coach, call.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	first, err := billing.Tick(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	if !first.Charged || first.RemainingBalance != 7 {
		t.Fatalf("first tick should charge one minute, got %+v", first)
	}

	// A retry of the same tick lands within the minute already paid for. It
	// must not move money, write ledger entries or bump charged minutes.
	retried, err := billing.Tick(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("retried Tick: %v", err)
	}
	if retried.Charged || retried.FreeMinute {
		t.Fatalf("retried tick must not charge, got %+v", retried)
	}
	if retried.RemainingBalance != 7 {
		t.Fatalf("retried tick moved money: balance %.2f, want 7.00", retried.RemainingBalance)
	}
	if retried.DurationMinutes != 1 || retried.TotalAmount != 3 {
		t.Fatalf("retried tick changed totals: (%d, %.2f), want (1, 3.00)",
			retried.DurationMinutes, retried.TotalAmount)
	}
	if !retried.CanContinue {
		t.Fatalf("retried tick should still report the call as continuable: %+v", retried)
	}

	reloaded, err := repository.NewCallRepository(pool).GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("reload call: %v", err)
	}
	if reloaded.ChargedMinutes != 1 {
		t.Fatalf("charged minutes = %d, want 1", reloaded.ChargedMinutes)
	}

	entries, err := repository.NewLedgerRepository(pool).ListByCallID(ctx, call.ID)
	if err != nil {
		t.Fatalf("ListByCallID: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want the single debit/credit pair", len(entries))
	}

	// Once the next minute starts, the same caller charges again normally.
	rewindAnchor(t, ctx, pool, call.ID, time.Minute)
	next, err := billing.Tick(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("next-minute Tick: %v", err)
	}
	if !next.Charged || next.RemainingBalance != 4 || next.DurationMinutes != 2 {
		t.Fatalf("next minute should charge, got %+v", next)
	}
}

func TestForcedTerminationKeepsFailureReason(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 10)
	coachID := createTestCoach(t, ctx, pool, 3)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeChat)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Forced close before any acceptance: nothing was metered, but the record
	// must keep the real trigger instead of degrading it to a plain cancel.
	result, err := billing.TerminateAsSystem(ctx, call.ID, models.EndReasonBillingFailure)
	if err != nil {
		t.Fatalf("TerminateAsSystem: %v", err)
	}
	if result.DurationMinutes != 0 || result.TotalAmount != 0 {
		t.Fatalf("unbilled call must close at zero, got (%d, %.2f)",
			result.DurationMinutes, result.TotalAmount)
	}

	reloaded, err := repository.NewCallRepository(pool).GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("reload call: %v", err)
	}
	if reloaded.Status != models.CallStatusCancelled {
		t.Fatalf("status = %q, want cancelled", reloaded.Status)
	}
	if reloaded.EndReason == nil || *reloaded.EndReason != models.EndReasonBillingFailure {
		t.Fatalf("end reason = %v, want billing_failure", reloaded.EndReason)
	}
}

func TestAcceptAnchorsBillingExactlyOnce(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 50)
	coachID := createTestCoach(t, ctx, pool, 2)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeChat)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if call.BothAcceptedAt != nil || call.BillingStarted {
		t.Fatalf("billing must not be anchored before acceptance: %+v", call)
	}

	accepted, err := calls.Accept(ctx, coach, call.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.BothAcceptedAt == nil || !accepted.BillingStarted {
		t.Fatalf("acceptance must anchor billing: %+v", accepted)
	}
	anchor := *accepted.BothAcceptedAt

	if _, err := calls.Accept(ctx, coach, call.ID); err != ErrAlreadyAccepted {
		t.Fatalf("second accept: %v, want ErrAlreadyAccepted", err)
	}

	reloaded, err := repository.NewCallRepository(pool).GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("reload call: %v", err)
	}
	if reloaded.BothAcceptedAt == nil || !reloaded.BothAcceptedAt.Equal(anchor) {
		t.Fatalf("anchor moved: %v, want %v", reloaded.BothAcceptedAt, anchor)
	}

	if _, err := calls.Accept(ctx, client, call.ID); err != ErrForbidden {
		t.Fatalf("client accept: %v, want ErrForbidden", err)
	}
}

func TestDurationDerivesFromAnchorNotCreation(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 50)
	coachID := createTestCoach(t, ctx, pool, 2)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeChat)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	exhaustExemptions(t, ctx, pool, call)

	// A long ring before acceptance must not count as billed time.
	if _, err := pool.Exec(ctx,
		"UPDATE calls SET created_at = created_at - interval '10 minutes' WHERE id = $1",
		call.ID,
	); err != nil {
		t.Fatalf("age call: %v", err)
	}

	if _, err := calls.Accept(ctx, coach, call.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	result, err := billing.Tick(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if result.DurationMinutes != 1 {
		t.Fatalf("duration = %d, want 1 (ring time must not bill)", result.DurationMinutes)
	}
}

func TestUnansweredCallExpiresWithoutCharges(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, 100*time.Millisecond)

	clientID := createTestClient(t, ctx, pool, 50)
	coachID := createTestCoach(t, ctx, pool, 2)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeVideo)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	callRepo := repository.NewCallRepository(pool)
	deadline := time.Now().Add(5 * time.Second)
	var expired *models.Call
	for time.Now().Before(deadline) {
		expired, err = callRepo.GetByID(ctx, call.ID)
		if err != nil {
			t.Fatalf("reload call: %v", err)
		}
		if expired.IsTerminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !expired.IsTerminal() {
		t.Fatal("call did not expire within the timeout window")
	}
	if expired.Status != models.CallStatusNoAnswer {
		t.Fatalf("status = %q, want no_answer", expired.Status)
	}
	if expired.EndReason == nil || *expired.EndReason != models.EndReasonNoAnswer {
		t.Fatalf("end reason = %v, want no_answer", expired.EndReason)
	}
	if expired.DurationMinutes != 0 || expired.TotalAmount != 0 {
		t.Fatalf("unanswered call must close at zero, got (%d, %.2f)",
			expired.DurationMinutes, expired.TotalAmount)
	}

	balance, err := repository.NewWalletRepository(pool).Balance(ctx, models.AccountKindRegistered, clientID)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("balance = %.2f, want untouched 50.00", balance)
	}

	events := notifier.ofType(EventCallNoAnswer)
	if len(events) != 1 {
		t.Fatalf("expected one no-answer event, got %d", len(events))
	}
	if len(events[0].recipients) != 2 {
		t.Fatalf("expected both parties notified, got %v", events[0].recipients)
	}
}

func TestFirstMinuteExemptionsConsumeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 100)
	coachID := createTestCoach(t, ctx, pool, 5)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	startAndAccept := func() int64 {
		call, err := calls.Start(ctx, client, coachID, models.CallTypeChat)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := calls.Accept(ctx, coach, call.ID); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		return call.ID
	}
	endCall := func(callID int64) {
		if _, err := billing.End(ctx, client, callID); err != nil {
			t.Fatalf("End: %v", err)
		}
	}

	afford, err := calls.CheckAffordability(ctx, client, coachID, models.CallTypeChat)
	if err != nil {
		t.Fatalf("CheckAffordability: %v", err)
	}
	if !afford.FirstMinuteFree {
		t.Fatalf("fresh pair should preview a free first minute, got %+v", afford)
	}

	// First call between the pair: the pair waiver makes minute one free.
	firstCall := startAndAccept()
	result, err := billing.Tick(ctx, client, firstCall)
	if err != nil {
		t.Fatalf("first call Tick: %v", err)
	}
	if !result.FreeMinute || result.Charged {
		t.Fatalf("expected a free first minute, got %+v", result)
	}
	if result.RemainingBalance != 100 {
		t.Fatalf("free minute must not move money, balance %.2f", result.RemainingBalance)
	}

	// Second minute of the same call charges normally.
	rewindAnchor(t, ctx, pool, firstCall, time.Minute)
	result, err = billing.Tick(ctx, client, firstCall)
	if err != nil {
		t.Fatalf("first call second Tick: %v", err)
	}
	if result.FreeMinute || !result.Charged {
		t.Fatalf("only the first minute may be free, got %+v", result)
	}
	endCall(firstCall)

	// Second call: pair waiver is spent, the account trial covers minute one.
	secondCall := startAndAccept()
	result, err = billing.Tick(ctx, client, secondCall)
	if err != nil {
		t.Fatalf("second call Tick: %v", err)
	}
	if !result.FreeMinute {
		t.Fatalf("account trial should cover the second call's first minute, got %+v", result)
	}
	endCall(secondCall)

	// Both allowances spent: the preview flips off before the third call.
	afford, err = calls.CheckAffordability(ctx, client, coachID, models.CallTypeChat)
	if err != nil {
		t.Fatalf("CheckAffordability after consumption: %v", err)
	}
	if afford.FirstMinuteFree {
		t.Fatalf("spent allowances must not preview as free, got %+v", afford)
	}

	// Third call: both allowances are gone.
	thirdCall := startAndAccept()
	result, err = billing.Tick(ctx, client, thirdCall)
	if err != nil {
		t.Fatalf("third call Tick: %v", err)
	}
	if result.FreeMinute || !result.Charged {
		t.Fatalf("exemptions must not apply twice, got %+v", result)
	}
	endCall(thirdCall)
}

func TestManualEndSettlesUnbilledMinutes(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	notifier := &recordingNotifier{}
	billing := NewBillingService(pool, notifier, 0.30, 3)
	calls := newIntegrationCallService(pool, billing, notifier, time.Minute)

	clientID := createTestClient(t, ctx, pool, 20)
	coachID := createTestCoach(t, ctx, pool, 3)
	t.Cleanup(func() { cleanupTestAccounts(t, ctx, pool, clientID, coachID) })

	client := Actor{Kind: models.AccountKindRegistered, ID: clientID}
	coach := Actor{Kind: models.AccountKindRegistered, ID: coachID}

	call, err := calls.Start(ctx, client, coachID, models.CallTypeAudio)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	exhaustExemptions(t, ctx, pool, call)

	if _, err := calls.Accept(ctx, coach, call.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := billing.Tick(ctx, client, call.ID); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// One minute billed, anchor moved back so two and a half minutes elapsed.
	rewindAnchor(t, ctx, pool, call.ID, 150*time.Second)

	result, err := billing.End(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if result.DurationMinutes != 3 || result.TotalAmount != 9 {
		t.Fatalf("final totals = (%d, %.2f), want (3, 9.00)", result.DurationMinutes, result.TotalAmount)
	}

	balance, err := repository.NewWalletRepository(pool).Balance(ctx, models.AccountKindRegistered, clientID)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 11 {
		t.Fatalf("balance = %.2f, want 11.00 after 9.00 total", balance)
	}

	// Ending again just reads back the final figures.
	again, err := billing.End(ctx, client, call.ID)
	if err != nil {
		t.Fatalf("repeat End: %v", err)
	}
	if again.DurationMinutes != 3 || again.TotalAmount != 9 {
		t.Fatalf("repeat End changed totals: %+v", again)
	}

	entries, err := repository.NewLedgerRepository(pool).ListByCallID(ctx, call.ID)
	if err != nil {
		t.Fatalf("ListByCallID: %v", err)
	}
	var debits, credits float64
	for _, entry := range entries {
		switch entry.Direction {
		case models.LedgerDebit:
			debits += entry.Amount
		case models.LedgerCredit:
			credits += entry.Amount
		}
	}
	if debits != 9 {
		t.Fatalf("total debits = %.2f, want 9.00", debits)
	}
	// 30% commission: the coach keeps 6.30 of the 9.00 charged.
	if math.Abs(credits-6.3) > 0.001 {
		t.Fatalf("total coach credits = %.2f, want 6.30", credits)
	}

	coachBalance, err := repository.NewWalletRepository(pool).Balance(ctx, models.AccountKindRegistered, coachID)
	if err != nil {
		t.Fatalf("read coach balance: %v", err)
	}
	if coachBalance != 6.3 {
		t.Fatalf("coach balance = %.2f, want 6.30", coachBalance)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationCallService(
	pool *pgxpool.Pool,
	billing *BillingService,
	notifier callNotifier,
	noAnswerTimeout time.Duration,
) *CallService {
	return NewCallService(
		pool,
		repository.NewCallRepository(pool),
		repository.NewWalletRepository(pool),
		repository.NewUserRepository(pool),
		repository.NewCoachProfileRepository(pool),
		repository.NewExemptionRepository(pool),
		billing,
		notifier,
		noAnswerTimeout,
	)
}

func createTestClient(t *testing.T, ctx context.Context, pool *pgxpool.Pool, balance float64) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Email:        fmt.Sprintf("billing-test-client-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         "user",
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(client): %v", err)
	}
	fundAccount(t, ctx, pool, user.ID, balance)
	return user.ID
}

func createTestCoach(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ratePerMinute float64) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Email:        fmt.Sprintf("billing-test-coach-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         "coach",
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(coach): %v", err)
	}

	coachProfileRepo := repository.NewCoachProfileRepository(pool)
	if err := coachProfileRepo.CreateEmpty(ctx, user.ID); err != nil {
		t.Fatalf("CreateEmpty coach profile: %v", err)
	}
	if _, err := coachProfileRepo.UpdateRates(ctx, user.ID, repository.CoachRatesInput{
		FullName:  "Test Coach",
		ChatRate:  &ratePerMinute,
		AudioRate: &ratePerMinute,
		VideoRate: &ratePerMinute,
	}); err != nil {
		t.Fatalf("UpdateRates coach profile: %v", err)
	}

	return user.ID
}

func fundAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID int64, balance float64) {
	t.Helper()
	if _, err := pool.Exec(ctx,
		"UPDATE users SET balance = $2 WHERE id = $1", userID, balance,
	); err != nil {
		t.Fatalf("fund account %d: %v", userID, err)
	}
}

// exhaustExemptions pre-consumes both free allowances so a scenario can
// observe pure per-minute charging from the first tick on.
func exhaustExemptions(t *testing.T, ctx context.Context, pool *pgxpool.Pool, call *models.Call) {
	t.Helper()

	exemptionRepo := repository.NewExemptionRepository(pool)
	if _, err := exemptionRepo.TryConsume(ctx, repository.ConsumeExemptionInput{
		Kind:       models.ExemptionPairFirstMinute,
		ClientKind: call.ClientKind,
		ClientID:   call.ClientID,
		CoachID:    call.CoachID,
		CallID:     call.ID,
	}); err != nil {
		t.Fatalf("exhaust pair exemption: %v", err)
	}
	if _, err := exemptionRepo.TryConsume(ctx, repository.ConsumeExemptionInput{
		Kind:       models.ExemptionAccountTrial,
		ClientKind: call.ClientKind,
		ClientID:   call.ClientID,
		CoachID:    0,
		CallID:     call.ID,
	}); err != nil {
		t.Fatalf("exhaust trial exemption: %v", err)
	}
}

// rewindAnchor moves the billing anchor into the past to simulate elapsed
// call time without sleeping through it.
func rewindAnchor(t *testing.T, ctx context.Context, pool *pgxpool.Pool, callID int64, d time.Duration) {
	t.Helper()
	if _, err := pool.Exec(ctx,
		"UPDATE calls SET both_accepted_at = both_accepted_at - make_interval(secs => $2) WHERE id = $1",
		callID, d.Seconds(),
	); err != nil {
		t.Fatalf("rewind anchor for call %d: %v", callID, err)
	}
}

func cleanupTestAccounts(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	callFilter := `call_id IN (
		SELECT id FROM calls
		WHERE coach_id = ANY($1) OR (client_kind = 'registered' AND client_id = ANY($1))
	)`
	if _, err := pool.Exec(ctx, "DELETE FROM ledger_entries WHERE "+callFilter, userIDs); err != nil {
		t.Fatalf("cleanup ledger entries: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM exemptions WHERE "+callFilter, userIDs); err != nil {
		t.Fatalf("cleanup exemptions: %v", err)
	}
	if _, err := pool.Exec(ctx,
		"DELETE FROM calls WHERE coach_id = ANY($1) OR (client_kind = 'registered' AND client_id = ANY($1))",
		userIDs,
	); err != nil {
		t.Fatalf("cleanup calls: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM coach_profiles WHERE user_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup coach profiles: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM users WHERE id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup users: %v", err)
	}
}
