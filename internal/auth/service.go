package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidCredentials is returned when login or password don't match
	ErrInvalidCredentials = apperrors.New(apperrors.KindUnauthenticated, "invalid login credentials")

	// ErrVerificationRequired is returned for accounts whose email is not verified
	ErrVerificationRequired = apperrors.New(apperrors.KindForbidden, "please verify your email before continuing")
)

// OrgBootstrapper creates an organization with owner as its first admin
// member and makes it the owner's current organization.
type OrgBootstrapper interface {
	CreateForOwner(ctx context.Context, name string, owner *users.User) (uuid.UUID, error)
}

// CodeIssuer sends a fresh verification code to an email address.
type CodeIssuer interface {
	IssueCode(ctx context.Context, email string) error
}

// Service implements registration and session operations.
type Service struct {
	users   users.Store
	tx      db.TxRunner
	orgs    OrgBootstrapper
	codes   CodeIssuer
	tokens  *Tokens
	metrics *metrics.Metrics
}

// NewService creates an auth service.
func NewService(store users.Store, tx db.TxRunner, orgs OrgBootstrapper, codes CodeIssuer, tokens *Tokens, m *metrics.Metrics) *Service {
	return &Service{users: store, tx: tx, orgs: orgs, codes: codes, tokens: tokens, metrics: m}
}

// Tokens returns the service's token issuer.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	FullName         string `json:"full_name"`
	Password         string `json:"password"`
	OrganizationName string `json:"organization_name"`
	Type             string `json:"type"`
}

// Validate normalizes the input in place.
func (in *RegisterInput) Validate() error {
	var err error
	if in.Username, err = validation.Username(in.Username); err != nil {
		return err
	}
	if in.Email, err = validation.Email(in.Email); err != nil {
		return err
	}
	if in.FullName, err = validation.Required("full_name", in.FullName, 128); err != nil {
		return err
	}
	if err = validation.Password(in.Password); err != nil {
		return err
	}
	in.OrganizationName = strings.TrimSpace(in.OrganizationName)
	if in.OrganizationName != "" {
		if in.OrganizationName, err = validation.Required("organization_name", in.OrganizationName, 128); err != nil {
			return err
		}
	}
	return nil
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	User           *users.User
	Token          string
	OrganizationID *uuid.UUID
	Secondary      besteffort.Result
}

// Register creates an account and, when requested, its first organization.
// The verification email is a secondary step.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &users.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         users.RoleFromAccountType(in.Type),
		Status:       users.StatusActive,
	}

	res := &RegisterResult{}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.CheckAvailable(ctx, user.Username, user.Email); err != nil {
			return err
		}
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		if in.OrganizationName == "" {
			return nil
		}
		orgID, err := s.orgs.CreateForOwner(ctx, in.OrganizationName, user)
		if err != nil {
			return err
		}
		res.OrganizationID = &orgID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.OrganizationID != nil {
		if user, err = s.users.GetByID(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	res.User = user

	res.Secondary.Do(ctx, "send_verification_email", func(ctx context.Context) error {
		return s.codes.IssueCode(ctx, user.Email)
	})

	if res.Token, err = s.tokens.Issue(user.ID); err != nil {
		return nil, err
	}

	s.metrics.IncAuthSuccess("register")
	log.Info().Str("user_id", user.ID.String()).Str("username", user.Username).Msg("User registered")
	return res, nil
}

// LoginResult is the outcome of Login.
type LoginResult struct {
	User      *users.User
	Token     string
	Secondary besteffort.Result
}

// Login authenticates by username or email. Unverified accounts are
// rejected with ErrVerificationRequired after the password checks out.
func (s *Service) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperrors.New(apperrors.KindValidation, "please provide login (username or email) and password")
	}

	user, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.metrics.IncAuthFailure("unknown_login")
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.metrics.IncAuthFailure("bad_password")
		log.Warn().Str("user_id", user.ID.String()).Msg("Failed login attempt")
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified() {
		s.metrics.IncAuthFailure("unverified")
		return &LoginResult{User: user}, ErrVerificationRequired
	}

	res := &LoginResult{}
	res.Secondary.Do(ctx, "set_online", func(ctx context.Context) error {
		if err := s.users.SetOnline(ctx, user.ID, true); err != nil {
			return err
		}
		user.Online = true
		return nil
	})
	res.Secondary.Do(ctx, "default_current_organization", func(ctx context.Context) error {
		return s.defaultCurrentOrganization(ctx, user)
	})

	if res.Token, err = s.tokens.Issue(user.ID); err != nil {
		return nil, err
	}
	res.User = user

	s.metrics.IncAuthSuccess("login")
	return res, nil
}

// Logout marks the user offline.
func (s *Service) Logout(ctx context.Context, user *users.User) error {
	return s.users.SetOnline(ctx, user.ID, false)
}

// Me returns the user's projection, persisting the default current
// organization when none is set.
func (s *Service) Me(ctx context.Context, user *users.User) (*users.User, *besteffort.Result) {
	res := &besteffort.Result{}
	res.Do(ctx, "default_current_organization", func(ctx context.Context) error {
		return s.defaultCurrentOrganization(ctx, user)
	})
	return user, res
}

func (s *Service) defaultCurrentOrganization(ctx context.Context, user *users.User) error {
	if user.CurrentOrganizationID != nil || len(user.OrganizationIDs) == 0 {
		return nil
	}
	orgID, err := user.OrganizationContext()
	if err != nil {
		return err
	}
	if err := s.users.SetCurrentOrganization(ctx, user.ID, orgID); err != nil {
		return err
	}
	user.CurrentOrganizationID = &orgID
	return nil
}
