package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BillingService charges ongoing calls one minute at a time and closes them
// out. Ticks are driven externally by the payer's side; there is no internal
// scheduler. All mutations for one call are serialized through a row lock on
// the call record, so a duplicated or retried tick cannot double-charge.
type BillingService struct {
	db             *pgxpool.Pool
	notifier       callNotifier
	failures       *failureTracker
	commissionRate float64
}

func NewBillingService(
	db *pgxpool.Pool,
	notifier callNotifier,
	commissionRate float64,
	failureLimit int,
) *BillingService {
	return &BillingService{
		db:             db,
		notifier:       notifier,
		failures:       newFailureTracker(failureLimit),
		commissionRate: commissionRate,
	}
}

// TickResult is the structured outcome of one billing evaluation. Running out
// of funds is a terminal business outcome, not an error: it comes back as a
// result with InsufficientFunds and SessionEnded set.
type TickResult struct {
	Charged           bool    `json:"charged"`
	FreeMinute        bool    `json:"free_minute,omitempty"`
	BillingNotStarted bool    `json:"billing_not_started,omitempty"`
	InsufficientFunds bool    `json:"insufficient_funds,omitempty"`
	SessionEnded      bool    `json:"session_ended,omitempty"`
	RemainingBalance  float64 `json:"remaining_balance"`
	CanContinue       bool    `json:"can_continue"`
	DurationMinutes   int     `json:"duration_minutes"`
	TotalAmount       float64 `json:"total_amount"`
}

// Tick evaluates one minute of billing for the call. Only the payer's
// invocation charges, and only when a new minute has started since the last
// charged one: a retried or duplicated tick is a no-op carrying current
// totals. The coach's side gets the same no-op success so existing polling
// clients keep working.
func (s *BillingService) Tick(ctx context.Context, actor Actor, callID int64) (*TickResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "begin tick tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCallRepo := repository.NewCallRepository(tx)
	txWalletRepo := repository.NewWalletRepository(tx)

	call, err := txCallRepo.GetByIDForUpdate(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, s.infrastructureFailure(ctx, callID, "load call", err)
	}

	if !actor.IsClientOf(call) && !actor.IsCoachOf(call) {
		return nil, ErrForbidden
	}
	if actor.IsCoachOf(call) && !actor.IsClientOf(call) {
		return currentTotals(call), nil
	}
	if call.Status != models.CallStatusOngoing {
		return nil, ErrInvalidState
	}
	if !call.BillingStarted {
		result := currentTotals(call)
		result.BillingNotStarted = true
		return result, nil
	}

	payerWallet := walletFor(txWalletRepo, call.ClientKind, call.ClientID)

	now := time.Now().UTC()
	elapsed := billedMinutes(*call.BothAcceptedAt, now)

	// Every started minute may be paid for once. A retried or duplicated tick
	// arrives while the last charged minute is still running; the row lock
	// sequences it and this guard makes it a no-op instead of a second charge.
	if elapsed <= call.ChargedMinutes {
		balance, err := payerWallet.Balance(ctx)
		if err != nil {
			return nil, s.infrastructureFailure(ctx, callID, "read payer balance", err)
		}
		s.failures.reset(call.ID)
		result := currentTotals(call)
		result.RemainingBalance = balance
		result.CanContinue = CheckAffordability(balance, call.RatePerMinute).CanAfford
		return result, nil
	}

	balance, err := payerWallet.BalanceForUpdate(ctx)
	if err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "read payer balance", err)
	}

	if !CheckAffordability(balance, call.RatePerMinute).CanAfford {
		return s.endForInsufficientFunds(ctx, tx, txCallRepo, call, balance)
	}

	freeMinute := false
	remaining := balance
	if call.ChargedMinutes == 0 {
		freeMinute, err = s.tryConsumeExemption(ctx, tx, call)
		if err != nil {
			return nil, s.infrastructureFailure(ctx, callID, "consume exemption", err)
		}
	}

	if !freeMinute {
		remaining, err = s.chargeMinutes(ctx, tx, call, payerWallet, 1, models.LedgerKindCharge)
		if err != nil {
			return nil, s.infrastructureFailure(ctx, callID, "charge minute", err)
		}
	}

	duration := elapsed
	if duration < call.DurationMinutes {
		duration = call.DurationMinutes
	}
	updated, err := txCallRepo.UpdateBillingProgress(ctx, repository.BillingUpdateInput{
		CallID:          call.ID,
		DurationMinutes: duration,
		TotalAmount:     round2(float64(duration) * call.RatePerMinute),
		ChargedMinutes:  call.ChargedMinutes + 1,
		LastBillingTime: now,
	})
	if err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "update billing progress", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "commit tick", err)
	}

	s.failures.reset(call.ID)

	canContinue := CheckAffordability(remaining, call.RatePerMinute).CanAfford
	s.notifier.Notify(callRecipients(updated), CallEvent{
		Type:             EventBillingUpdate,
		CallID:           updated.ID,
		DurationMinutes:  updated.DurationMinutes,
		TotalAmount:      updated.TotalAmount,
		RemainingBalance: &remaining,
		CanContinue:      &canContinue,
		Timestamp:        now,
	})

	return &TickResult{
		Charged:          !freeMinute,
		FreeMinute:       freeMinute,
		RemainingBalance: remaining,
		CanContinue:      canContinue,
		DurationMinutes:  updated.DurationMinutes,
		TotalAmount:      updated.TotalAmount,
	}, nil
}

// TerminationResult carries the final figures of a closed call.
type TerminationResult struct {
	Call            *models.Call `json:"call"`
	DurationMinutes int          `json:"duration_minutes"`
	TotalAmount     float64      `json:"total_amount"`
	EndTime         time.Time    `json:"end_time"`
}

// End terminates a call on behalf of one of its participants.
func (s *BillingService) End(ctx context.Context, actor Actor, callID int64) (*TerminationResult, error) {
	return s.terminate(ctx, &actor, callID, models.EndReasonManual)
}

// TerminateAsSystem closes a call from an internal trigger (no-answer timeout,
// billing failure run) without a participant check.
func (s *BillingService) TerminateAsSystem(ctx context.Context, callID int64, reason string) (*TerminationResult, error) {
	return s.terminate(ctx, nil, callID, reason)
}

func (s *BillingService) terminate(ctx context.Context, actor *Actor, callID int64, reason string) (*TerminationResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "begin terminate tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCallRepo := repository.NewCallRepository(tx)
	txWalletRepo := repository.NewWalletRepository(tx)

	call, err := txCallRepo.GetByIDForUpdate(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, s.infrastructureFailure(ctx, callID, "load call", err)
	}

	if actor != nil && !actor.IsClientOf(call) && !actor.IsCoachOf(call) {
		return nil, ErrForbidden
	}

	// Idempotent on terminal calls: a retried end after an ambiguous outcome
	// just reads the final figures back.
	if call.IsTerminal() {
		return terminationFrom(call), nil
	}

	// The no-answer timeout rechecks state at fire time: acceptance in the
	// meantime means there is nothing to cancel.
	if reason == models.EndReasonNoAnswer && call.CoachAccepted {
		return terminationFrom(call), nil
	}

	now := time.Now().UTC()
	input := repository.TerminateCallInput{
		CallID:         call.ID,
		EndTime:        now,
		ChargedMinutes: call.ChargedMinutes,
	}

	switch {
	case !call.BillingStarted:
		// Never accepted: nothing was metered regardless of wall-clock time
		// since creation.
		input.DurationMinutes = 0
		input.TotalAmount = 0
		switch reason {
		case models.EndReasonNoAnswer:
			input.Status = models.CallStatusNoAnswer
			input.EndReason = models.EndReasonNoAnswer
		case models.EndReasonBillingFailure:
			// The record keeps the real trigger even though no money moved.
			input.Status = models.CallStatusCancelled
			input.EndReason = models.EndReasonBillingFailure
		default:
			input.Status = models.CallStatusCancelled
			input.EndReason = models.EndReasonCancelled
		}
	case reason == models.EndReasonInsufficientFunds:
		// Totals stay at the last successfully billed minute; there is no
		// money left to extend them.
		input.Status = models.CallStatusCompleted
		input.EndReason = reason
		input.DurationMinutes = call.DurationMinutes
		input.TotalAmount = call.TotalAmount
	default:
		finalMinutes := billedMinutes(*call.BothAcceptedAt, now)
		if finalMinutes < call.DurationMinutes {
			finalMinutes = call.DurationMinutes
		}
		input.Status = models.CallStatusCompleted
		input.EndReason = reason
		input.DurationMinutes = finalMinutes
		input.TotalAmount = round2(float64(finalMinutes) * call.RatePerMinute)

		// Settle only minutes not already covered by ticks, and never more
		// than the remaining balance covers in whole minutes.
		delta := finalMinutes - call.ChargedMinutes
		if delta > 0 {
			payerWallet := walletFor(txWalletRepo, call.ClientKind, call.ClientID)
			balance, err := payerWallet.BalanceForUpdate(ctx)
			if err != nil {
				return nil, s.infrastructureFailure(ctx, callID, "read payer balance", err)
			}
			settle := delta
			if max := CheckAffordability(balance, call.RatePerMinute).MaxWholeMinutes; settle > max {
				settle = max
			}
			if settle > 0 {
				if _, err := s.chargeMinutes(ctx, tx, call, payerWallet, settle, models.LedgerKindSettlement); err != nil {
					return nil, s.infrastructureFailure(ctx, callID, "final settlement", err)
				}
				input.ChargedMinutes = call.ChargedMinutes + settle
			}
		}
	}

	terminated, err := txCallRepo.Terminate(ctx, input)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the close race; the call is terminal now.
			current, getErr := txCallRepo.GetByID(ctx, callID)
			if getErr != nil {
				return nil, s.infrastructureFailure(ctx, callID, "reload terminal call", getErr)
			}
			return terminationFrom(current), nil
		}
		return nil, s.infrastructureFailure(ctx, callID, "terminate call", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.infrastructureFailure(ctx, callID, "commit terminate", err)
	}

	s.failures.evict(call.ID)

	eventType := EventBillingTerminated
	if terminated.Status == models.CallStatusNoAnswer {
		eventType = EventCallNoAnswer
	}
	s.notifier.Notify(callRecipients(terminated), CallEvent{
		Type:            eventType,
		CallID:          terminated.ID,
		DurationMinutes: terminated.DurationMinutes,
		TotalAmount:     terminated.TotalAmount,
		EndReason:       derefString(terminated.EndReason),
		EndTime:         terminated.EndTime,
		Timestamp:       now,
	})

	return terminationFrom(terminated), nil
}

// chargeMinutes moves minutes * rate from the payer to the platform split:
// commission stays, the coach's share lands in their wallet and earnings. One
// debit and one credit ledger entry are appended, both referencing the call.
func (s *BillingService) chargeMinutes(
	ctx context.Context,
	tx pgx.Tx,
	call *models.Call,
	payerWallet walletAccount,
	minutes int,
	ledgerKind string,
) (float64, error) {
	txWalletRepo := repository.NewWalletRepository(tx)
	txLedgerRepo := repository.NewLedgerRepository(tx)
	txCoachProfileRepo := repository.NewCoachProfileRepository(tx)

	amount := round2(float64(minutes) * call.RatePerMinute)

	commissionRate := s.commissionRate
	profile, err := txCoachProfileRepo.GetByUserID(ctx, call.CoachID)
	if err != nil {
		return 0, err
	}
	if profile.CommissionOverride != nil {
		commissionRate = *profile.CommissionOverride
	}
	_, coachShare := splitCharge(amount, commissionRate)

	balanceAfter, err := payerWallet.Debit(ctx, amount)
	if err != nil {
		return 0, err
	}

	coachWallet := walletFor(txWalletRepo, models.AccountKindRegistered, call.CoachID)
	coachBalanceAfter, err := coachWallet.Credit(ctx, coachShare)
	if err != nil {
		return 0, err
	}
	if err := txWalletRepo.CreditCoachEarnings(ctx, call.CoachID, coachShare); err != nil {
		return 0, err
	}

	if _, err := txLedgerRepo.Append(ctx, repository.CreateLedgerEntryInput{
		AccountKind:  call.ClientKind,
		AccountID:    call.ClientID,
		Direction:    models.LedgerDebit,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		CallID:       call.ID,
		Kind:         ledgerKind,
	}); err != nil {
		return 0, err
	}
	if _, err := txLedgerRepo.Append(ctx, repository.CreateLedgerEntryInput{
		AccountKind:  models.AccountKindRegistered,
		AccountID:    call.CoachID,
		Direction:    models.LedgerCredit,
		Amount:       coachShare,
		BalanceAfter: coachBalanceAfter,
		CallID:       call.ID,
		Kind:         ledgerKind,
	}); err != nil {
		return 0, err
	}

	return balanceAfter, nil
}

// tryConsumeExemption applies at most one free allowance to the first minute:
// the per-pair first-minute waiver is checked first, the account-wide trial
// only if the pair one is gone. Consumption rides in the charging transaction,
// so concurrent first ticks cannot both see "not yet consumed".
func (s *BillingService) tryConsumeExemption(ctx context.Context, tx pgx.Tx, call *models.Call) (bool, error) {
	txExemptionRepo := repository.NewExemptionRepository(tx)

	consumed, err := txExemptionRepo.TryConsume(ctx, repository.ConsumeExemptionInput{
		Kind:       models.ExemptionPairFirstMinute,
		ClientKind: call.ClientKind,
		ClientID:   call.ClientID,
		CoachID:    call.CoachID,
		CallID:     call.ID,
	})
	if err != nil || consumed {
		return consumed, err
	}

	return txExemptionRepo.TryConsume(ctx, repository.ConsumeExemptionInput{
		Kind:       models.ExemptionAccountTrial,
		ClientKind: call.ClientKind,
		ClientID:   call.ClientID,
		CoachID:    0,
		CallID:     call.ID,
	})
}

func (s *BillingService) endForInsufficientFunds(
	ctx context.Context,
	tx pgx.Tx,
	txCallRepo *repository.CallRepository,
	call *models.Call,
	balance float64,
) (*TickResult, error) {
	now := time.Now().UTC()
	terminated, err := txCallRepo.Terminate(ctx, repository.TerminateCallInput{
		CallID:          call.ID,
		Status:          models.CallStatusCompleted,
		EndReason:       models.EndReasonInsufficientFunds,
		EndTime:         now,
		DurationMinutes: call.DurationMinutes,
		TotalAmount:     call.TotalAmount,
		ChargedMinutes:  call.ChargedMinutes,
	})
	if err != nil {
		return nil, s.infrastructureFailure(ctx, call.ID, "terminate on insufficient funds", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.infrastructureFailure(ctx, call.ID, "commit insufficient funds terminate", err)
	}

	s.failures.evict(call.ID)

	canContinue := false
	s.notifier.Notify(callRecipients(terminated), CallEvent{
		Type:             EventBillingTerminated,
		CallID:           terminated.ID,
		DurationMinutes:  terminated.DurationMinutes,
		TotalAmount:      terminated.TotalAmount,
		RemainingBalance: &balance,
		CanContinue:      &canContinue,
		EndReason:        models.EndReasonInsufficientFunds,
		EndTime:          terminated.EndTime,
		Timestamp:        now,
	})

	return &TickResult{
		InsufficientFunds: true,
		SessionEnded:      true,
		RemainingBalance:  balance,
		CanContinue:       false,
		DurationMinutes:   terminated.DurationMinutes,
		TotalAmount:       terminated.TotalAmount,
	}, nil
}

// infrastructureFailure logs a money-path failure with enough detail for
// manual reconciliation and force-terminates the call once a configurable run
// of consecutive failures is reached, bounding both ghost billing and billing
// without service.
func (s *BillingService) infrastructureFailure(ctx context.Context, callID int64, op string, err error) error {
	log.Printf("billing failure call=%d op=%s: %v", callID, op, err)
	if s.failures.recordFailure(callID) {
		log.Printf("billing failure limit reached, terminating call=%d", callID)
		if _, termErr := s.TerminateAsSystem(ctx, callID, models.EndReasonBillingFailure); termErr != nil {
			log.Printf("forced termination failed call=%d: %v", callID, termErr)
		}
	}
	return ErrBillingUnavailable
}

func currentTotals(call *models.Call) *TickResult {
	return &TickResult{
		DurationMinutes: call.DurationMinutes,
		TotalAmount:     call.TotalAmount,
	}
}

func terminationFrom(call *models.Call) *TerminationResult {
	result := &TerminationResult{
		Call:            call,
		DurationMinutes: call.DurationMinutes,
		TotalAmount:     call.TotalAmount,
	}
	if call.EndTime != nil {
		result.EndTime = *call.EndTime
	}
	return result
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
