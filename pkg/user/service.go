package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/kindredhq/kindred/pkg/async"
	"github.com/kindredhq/kindred/pkg/mailer"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/pubsub"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike
	// so a login response never confirms whether an account exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNotVerified is returned when credentials are right but the email
	// round trip has not completed.
	ErrNotVerified = errors.New("email not verified")
)

// mailTimeout bounds background delivery of a single message.
const mailTimeout = 30 * time.Second

// Service implements the account flows: registration with email
// verification, login checks, password reset, and profile editing.
type Service struct {
	store     Store
	mail      mailer.Mailer
	bridge    *pubsub.Bridge
	logger    *observability.Logger
	baseURL   string
	verifyTTL time.Duration
	resetTTL  time.Duration
}

// NewService wires the account flows together. bridge may be nil in tests;
// verification then simply skips the broadcast.
func NewService(store Store, mail mailer.Mailer, bridge *pubsub.Bridge, logger *observability.Logger, baseURL string, verifyTTL, resetTTL time.Duration) *Service {
	return &Service{
		store:     store,
		mail:      mail,
		bridge:    bridge,
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
		verifyTTL: verifyTTL,
		resetTTL:  resetTTL,
	}
}

// Register creates an unverified account and emails a verification link.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email address")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{Email: email, Name: strings.TrimSpace(name), PasswordHash: hash}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.sendToken(ctx, u, TokenVerify); err != nil {
		// The account exists; the user can request a fresh link later.
		s.logger.WithError(err).WithField("user_id", u.ID).Error("failed to issue verification token")
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": u.ID,
		"email":   u.Email,
	}).Info("user registered")
	return u, nil
}

// Verify consumes a verification token, marks the account verified, and
// broadcasts the event so connected admin dashboards update live.
func (s *Service) Verify(ctx context.Context, token string) (*User, error) {
	userID, err := s.store.ConsumeToken(ctx, TokenVerify, HashToken(token))
	if err != nil {
		return nil, err
	}
	if err := s.store.SetVerified(ctx, userID); err != nil {
		return nil, err
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.bridge != nil {
		if err := s.bridge.Publish(ctx, pubsub.ChannelUserVerified, map[string]interface{}{
			"user_id": u.ID,
			"name":    u.Name,
		}); err != nil {
			s.logger.WithError(err).Warn("failed to broadcast user verification")
		}
	}

	s.logger.WithField("user_id", u.ID).Info("user verified")
	return u, nil
}

// Authenticate checks credentials for login. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		// Burn comparable time so response timing does not leak whether
		// the account exists.
		CheckPassword("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy", password)
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, err
	}

	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.Verified {
		return nil, ErrNotVerified
	}
	return u, nil
}

// RequestReset issues a password reset link. An unknown email succeeds
// silently so the form cannot be used to enumerate accounts.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	u, err := s.store.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return s.sendToken(ctx, u, TokenReset)
}

// ResetPassword consumes a reset token and installs the new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	userID, err := s.store.ConsumeToken(ctx, TokenReset, HashToken(token))
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, userID, hash); err != nil {
		return err
	}

	s.logger.WithField("user_id", userID).Info("password reset")
	return nil
}

// UpdateProfile applies the user's own edits.
func (s *Service) UpdateProfile(ctx context.Context, id string, p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.store.UpdateProfile(ctx, id, p)
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// sendToken stores a fresh single-use token and mails its link. Delivery
// happens off the request path; SMTP latency must not hold up a signup.
func (s *Service) sendToken(ctx context.Context, u *User, kind TokenKind) error {
	token, hash, err := GenerateToken()
	if err != nil {
		return err
	}

	ttl := s.verifyTTL
	if kind == TokenReset {
		ttl = s.resetTTL
	}
	if err := s.store.CreateToken(ctx, u.ID, kind, hash, time.Now().Add(ttl)); err != nil {
		return err
	}

	var subject, body string
	switch kind {
	case TokenVerify:
		subject = "Verify your email"
		body = fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening this link:\n\n%s/verify?token=%s\n\nThe link expires in %s.",
			u.Name, s.baseURL, token, ttl)
	case TokenReset:
		subject = "Reset your password"
		body = fmt.Sprintf("Hi %s,\n\nReset your password by opening this link:\n\n%s/reset?token=%s\n\nThe link expires in %s. If you did not ask for this, ignore this email.",
			u.Name, s.baseURL, token, ttl)
	}

	to := u.Email
	async.SafeGo(context.Background(), mailTimeout, "send-"+string(kind)+"-mail", func(context.Context) error {
		return s.mail.Send(to, subject, body)
	})
	return nil
}
