package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidCode is returned when the code does not match the latest row
	ErrInvalidCode = apperrors.New(apperrors.KindValidation, "invalid verification code")

	// ErrExpired is returned when the latest code is past its lifetime
	ErrExpired = apperrors.New(apperrors.KindValidation, "verification code has expired, please request a new one")

	// ErrTooManyAttempts is returned once a code has been guessed wrong
	// MaxVerifyAttempts times. The code is expired and a new one must be sent.
	ErrTooManyAttempts = apperrors.New(apperrors.KindTooManyRequests, "too many verification attempts, please request a new code")
)

// MaxVerifyAttempts is the number of wrong codes accepted per issued code.
const MaxVerifyAttempts = 5

// StatusNotFound is reported by Status when an email has no rows.
const StatusNotFound = "not_found"

// Service issues and checks email verification codes.
type Service struct {
	store    Store
	users    users.Store
	tx       db.TxRunner
	notifier notify.Notifier
	ttl      time.Duration
	now      func() time.Time
	newCode  func() (string, error)
}

// NewService creates a verification service. Codes live for ttl.
func NewService(store Store, userStore users.Store, tx db.TxRunner, notifier notify.Notifier, ttl time.Duration) *Service {
	return &Service{
		store:    store,
		users:    userStore,
		tx:       tx,
		notifier: notifier,
		ttl:      ttl,
		now:      time.Now,
		newCode:  generateCode,
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IssueCode stores a fresh pending code for email and mails it. A delivery
// failure is returned after the row is stored.
func (s *Service) IssueCode(ctx context.Context, email string) error {
	v, err := s.create(ctx, email)
	if err != nil {
		return err
	}
	return s.deliver(ctx, v)
}

func (s *Service) create(ctx context.Context, email string) (*Verification, error) {
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	v := &Verification{Email: users.NormalizeEmail(email), Code: code, Status: StatusPending}
	if err := s.store.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) deliver(ctx context.Context, v *Verification) error {
	msg, err := notify.BuildVerificationEmail(v.Email, notify.VerificationEmailData{
		Code:      v.Code,
		ExpiresIn: humanDuration(s.ttl),
	})
	if err != nil {
		return err
	}
	return s.notifier.Send(ctx, msg)
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	}
	return d.String()
}

// SendResult is the outcome of Send.
type SendResult struct {
	AlreadyVerified bool
	Secondary       besteffort.Result
}

// Send issues a new code for a registered, unverified email. The email
// itself is a secondary step.
func (s *Service) Send(ctx context.Context, email string) (*SendResult, error) {
	email, err := validation.Email(email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	res := &SendResult{}
	if user.IsVerified() {
		res.AlreadyVerified = true
		return res, nil
	}

	v, err := s.create(ctx, email)
	if err != nil {
		return nil, err
	}
	res.Secondary.Do(ctx, "send_verification_email", func(ctx context.Context) error {
		return s.deliver(ctx, v)
	})

	log.Info().Str("email", email).Msg("Verification code issued")
	return res, nil
}

// Verify checks code against the latest row for email. It reports true when
// the user was already verified.
func (s *Service) Verify(ctx context.Context, email, code string) (bool, error) {
	email, err := validation.Email(email)
	if err != nil {
		return false, err
	}
	if code, err = validation.Code(code); err != nil {
		return false, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return false, err
	}
	if user != nil && user.IsVerified() {
		return true, nil
	}

	v, err := s.store.Latest(ctx, email)
	if err != nil {
		return false, err
	}
	if v.Attempts >= MaxVerifyAttempts {
		return false, ErrTooManyAttempts
	}
	if v.Code != code {
		return false, s.recordMismatch(ctx, v)
	}
	if v.Status == StatusExpired {
		return false, ErrExpired
	}
	if s.now().Sub(v.CreatedAt) > s.ttl {
		if err := s.store.SetStatus(ctx, v.ID, StatusExpired); err != nil {
			return false, err
		}
		return false, ErrExpired
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetStatus(ctx, v.ID, StatusVerified); err != nil {
			return err
		}
		return s.users.SetStatusByEmail(ctx, email, users.StatusVerified)
	})
	if err != nil {
		return false, err
	}

	log.Info().Str("email", email).Msg("Email verified")
	return false, nil
}

// recordMismatch counts a wrong code and expires the row at the cap.
func (s *Service) recordMismatch(ctx context.Context, v *Verification) error {
	attempts, err := s.store.RecordFailedAttempt(ctx, v.ID)
	if err != nil {
		return err
	}
	log.Debug().Str("email", v.Email).Int("attempts", attempts).Msg("Verification code mismatch")
	if attempts < MaxVerifyAttempts {
		return ErrInvalidCode
	}

	if v.Status == StatusPending {
		if err := s.store.SetStatus(ctx, v.ID, StatusExpired); err != nil {
			return err
		}
	}
	log.Warn().Str("email", v.Email).Msg("Verification code locked after too many attempts")
	return ErrTooManyAttempts
}

// StatusResult is the outcome of Status.
type StatusResult struct {
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
}

// Status reports the state of the latest row for email.
func (s *Service) Status(ctx context.Context, email string) (*StatusResult, error) {
	email, err := validation.Email(email)
	if err != nil {
		return nil, err
	}

	v, err := s.store.Latest(ctx, email)
	if err != nil {
		if errors.Is(err, ErrVerificationNotFound) {
			return &StatusResult{Status: StatusNotFound}, nil
		}
		return nil, err
	}
	return &StatusResult{Status: string(v.Status), Verified: v.Status == StatusVerified}, nil
}

// ExpireStale marks pending codes older than the lifetime as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePending(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("Expired stale verification codes")
	}
	return n, nil
}
