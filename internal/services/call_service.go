package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("operation invalid for current call state")
	ErrAlreadyAccepted    = errors.New("call already accepted")
	ErrCallNotFound       = errors.New("call not found")
	ErrCoachNotFound      = errors.New("coach not found")
	ErrRateUnavailable    = errors.New("coach does not offer this call type")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBillingUnavailable = errors.New("billing temporarily unavailable")
)

type coachProfileReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.CoachProfile, error)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type callTerminator interface {
	TerminateAsSystem(ctx context.Context, callID int64, reason string) (*TerminationResult, error)
}

type exemptionReader interface {
	IsConsumed(ctx context.Context, kind, clientKind string, clientID, coachID int64) (bool, error)
}

// CallService creates calls and runs the acceptance handshake that anchors
// billing. Charging itself lives in BillingService.
type CallService struct {
	db               *pgxpool.Pool
	callRepo         *repository.CallRepository
	walletRepo       *repository.WalletRepository
	userRepo         userReader
	coachProfileRepo coachProfileReader
	exemptionRepo    exemptionReader
	terminator       callTerminator
	notifier         callNotifier
	noAnswerTimeout  time.Duration

	timersMu sync.Mutex
	timers   map[int64]*time.Timer
}

func NewCallService(
	db *pgxpool.Pool,
	callRepo *repository.CallRepository,
	walletRepo *repository.WalletRepository,
	userRepo userReader,
	coachProfileRepo coachProfileReader,
	exemptionRepo exemptionReader,
	terminator callTerminator,
	notifier callNotifier,
	noAnswerTimeout time.Duration,
) *CallService {
	if noAnswerTimeout <= 0 {
		noAnswerTimeout = 60 * time.Second
	}
	return &CallService{
		db:               db,
		callRepo:         callRepo,
		walletRepo:       walletRepo,
		userRepo:         userRepo,
		coachProfileRepo: coachProfileRepo,
		exemptionRepo:    exemptionRepo,
		terminator:       terminator,
		notifier:         notifier,
		noAnswerTimeout:  noAnswerTimeout,
		timers:           make(map[int64]*time.Timer),
	}
}

// resolveRate looks up the coach's per-minute rate for the call type.
func (s *CallService) resolveRate(ctx context.Context, coachID int64, callType string) (float64, error) {
	coach, err := s.userRepo.GetByID(ctx, coachID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCoachNotFound
		}
		return 0, err
	}
	if coach.Role != "coach" {
		return 0, ErrCoachNotFound
	}

	profile, err := s.coachProfileRepo.GetByUserID(ctx, coachID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCoachNotFound
		}
		return 0, err
	}
	rate := profile.RateFor(callType)
	if rate == nil || *rate <= 0 {
		return 0, ErrRateUnavailable
	}
	return *rate, nil
}

// CheckAffordability answers whether the actor could start a call of this
// type with the coach, and for how many whole minutes the balance would last.
func (s *CallService) CheckAffordability(ctx context.Context, actor Actor, coachID int64, callType string) (*Affordability, error) {
	if coachID <= 0 || !validCallType(callType) {
		return nil, ErrInvalidInput
	}
	rate, err := s.resolveRate(ctx, coachID, callType)
	if err != nil {
		return nil, err
	}
	balance, err := s.walletRepo.Balance(ctx, actor.Kind, actor.ID)
	if err != nil {
		return nil, err
	}
	result := CheckAffordability(balance, rate)
	result.FirstMinuteFree, err = s.firstMinuteFree(ctx, actor, coachID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// firstMinuteFree reports whether any allowance would still waive this
// caller's first minute with the coach. The pair waiver takes precedence over
// the account trial, matching the order the billing tick consumes them in.
func (s *CallService) firstMinuteFree(ctx context.Context, actor Actor, coachID int64) (bool, error) {
	consumed, err := s.exemptionRepo.IsConsumed(ctx, models.ExemptionPairFirstMinute, actor.Kind, actor.ID, coachID)
	if err != nil {
		return false, err
	}
	if !consumed {
		return true, nil
	}
	consumed, err = s.exemptionRepo.IsConsumed(ctx, models.ExemptionAccountTrial, actor.Kind, actor.ID, 0)
	if err != nil {
		return false, err
	}
	return !consumed, nil
}

// Start creates the call, rings the coach and arms the one-shot no-answer
// timer. No billing anchor exists yet: start_time stays null until the coach
// accepts.
func (s *CallService) Start(ctx context.Context, actor Actor, coachID int64, callType string) (*models.Call, error) {
	if coachID <= 0 || !validCallType(callType) {
		return nil, ErrInvalidInput
	}
	if actor.Kind == models.AccountKindRegistered && actor.ID == coachID {
		return nil, ErrInvalidInput
	}

	rate, err := s.resolveRate(ctx, coachID, callType)
	if err != nil {
		return nil, err
	}

	balance, err := s.walletRepo.Balance(ctx, actor.Kind, actor.ID)
	if err != nil {
		return nil, err
	}
	if !CheckAffordability(balance, rate).CanAfford {
		return nil, ErrInsufficientFunds
	}

	call, err := s.callRepo.Create(ctx, repository.CreateCallInput{
		ClientID:      actor.ID,
		ClientKind:    actor.Kind,
		CoachID:       coachID,
		CallType:      callType,
		RatePerMinute: rate,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(
		[]string{recipientKey(models.AccountKindRegistered, coachID)},
		CallEvent{
			Type:          EventIncomingCall,
			CallID:        call.ID,
			CallType:      call.CallType,
			CoachID:       call.CoachID,
			RatePerMinute: call.RatePerMinute,
			Timestamp:     time.Now().UTC(),
		},
	)

	s.armNoAnswerTimer(call.ID)

	return call, nil
}

// Accept is coach-only and flips the call into billing exactly once. The
// returned call carries the anchor all later duration math derives from.
func (s *CallService) Accept(ctx context.Context, actor Actor, callID int64) (*models.Call, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCallRepo := repository.NewCallRepository(tx)

	call, err := txCallRepo.GetByIDForUpdate(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}

	if !actor.IsCoachOf(call) {
		return nil, ErrForbidden
	}
	if call.Status != models.CallStatusOngoing {
		return nil, ErrInvalidState
	}
	if call.CoachAccepted {
		return nil, ErrAlreadyAccepted
	}

	accepted, err := txCallRepo.MarkCoachAccepted(ctx, callID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Best effort: the timer callback rechecks state at fire time anyway.
	s.cancelNoAnswerTimer(callID)

	s.notifier.Notify(callRecipients(accepted), CallEvent{
		Type:          EventBillingStarted,
		CallID:        accepted.ID,
		CallType:      accepted.CallType,
		RatePerMinute: accepted.RatePerMinute,
		StartTime:     accepted.BothAcceptedAt,
		Timestamp:     time.Now().UTC(),
	})

	return accepted, nil
}

func (s *CallService) Get(ctx context.Context, actor Actor, callID int64) (*models.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	if !call.IsParticipant(actor.Kind, actor.ID) {
		return nil, ErrForbidden
	}
	return call, nil
}

func (s *CallService) ListOngoing(ctx context.Context, actor Actor) ([]models.Call, error) {
	return s.callRepo.ListOngoing(ctx, actor.Kind, actor.ID)
}

func (s *CallService) armNoAnswerTimer(callID int64) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	s.timers[callID] = time.AfterFunc(s.noAnswerTimeout, func() {
		s.expireNoAnswer(callID)
	})
}

func (s *CallService) cancelNoAnswerTimer(callID int64) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[callID]; ok {
		timer.Stop()
		delete(s.timers, callID)
	}
}

// expireNoAnswer fires when the ring went unanswered. Current state is
// re-read under lock inside the termination path, so an acceptance that beat
// the timer turns this into a no-op.
func (s *CallService) expireNoAnswer(callID int64) {
	s.timersMu.Lock()
	delete(s.timers, callID)
	s.timersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.terminator.TerminateAsSystem(ctx, callID, models.EndReasonNoAnswer); err != nil {
		log.Printf("no-answer expiry for call %d: %v", callID, err)
	}
}

func validCallType(callType string) bool {
	switch callType {
	case models.CallTypeChat, models.CallTypeAudio, models.CallTypeVideo:
		return true
	}
	return false
}
