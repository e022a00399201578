package services

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/utils"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	loginTokenLength = 64
	sessionTTL       = 24 * time.Hour
)

// AuthService issues magic links to customers and signed sessions to both
// customers and the operator.
type AuthService struct {
	Tokens            LoginTokenStore
	Bookings          BookingStore
	Secret            []byte
	LinkBaseURL       string
	AdminEmail        string
	AdminPasswordHash string
	Log               *zap.Logger
	Now               func() time.Time
}

type MagicLink struct {
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	URL       string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Session struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return utils.NowUTC()
}

func (s *AuthService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return utils.Logger()
}

// RequestMagicLink creates a single-use login link for an email that has at
// least one booking. Older unused links for the email stop working.
func (s *AuthService) RequestMagicLink(ctx context.Context, email string) (MagicLink, error) {
	email = utils.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return MagicLink{}, domain.ValidationError{Field: "email", Msg: "invalid email", Err: err}
	}
	n, err := s.Bookings.CountByEmail(ctx, email)
	if err != nil {
		return MagicLink{}, err
	}
	if n == 0 {
		return MagicLink{}, domain.NotFoundError{Resource: "bookings for this email"}
	}

	token, err := utils.RandomString(loginTokenLength)
	if err != nil {
		return MagicLink{}, domain.InternalError{Msg: "generate login token", Err: err}
	}
	lt := models.LoginToken{Email: email, Token: token, ExpiresAt: s.now().Add(models.LoginTokenTTL)}
	if err := s.Tokens.Create(ctx, &lt); err != nil {
		return MagicLink{}, err
	}

	link := MagicLink{
		Email:     email,
		Token:     token,
		URL:       strings.TrimRight(s.LinkBaseURL, "/") + "/auth/verify?token=" + url.QueryEscape(token),
		ExpiresAt: lt.ExpiresAt,
	}
	// Delivery is handled by the mail relay subscribed to the log stream.
	s.log().Info("magic link issued", zap.String("email", email), zap.Time("expires_at", link.ExpiresAt))
	return link, nil
}

// Login redeems a magic link token and opens a customer session.
func (s *AuthService) Login(ctx context.Context, token string) (Session, []models.Booking, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, nil, domain.ValidationError{Field: "token", Msg: "required"}
	}
	lt, err := s.Tokens.Consume(ctx, token, s.now())
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		return Session{}, nil, domain.UnauthorizedError{Msg: "invalid or expired token", Err: err}
	}
	if err != nil {
		return Session{}, nil, err
	}

	sess, err := s.issue(lt.Email, RoleCustomer)
	if err != nil {
		return Session{}, nil, err
	}
	bookings, err := s.Bookings.ListByEmail(ctx, lt.Email)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, bookings, nil
}

// AdminLogin checks the operator credentials against the configured bcrypt
// hash.
func (s *AuthService) AdminLogin(_ context.Context, email, password string) (Session, error) {
	email = utils.NormalizeEmail(email)
	if s.AdminEmail == "" || s.AdminPasswordHash == "" {
		return Session{}, domain.UnauthorizedError{Msg: "admin login disabled"}
	}
	if email != utils.NormalizeEmail(s.AdminEmail) {
		return Session{}, domain.UnauthorizedError{Msg: "invalid credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.AdminPasswordHash), []byte(password)); err != nil {
		return Session{}, domain.UnauthorizedError{Msg: "invalid credentials"}
	}
	return s.issue(email, RoleAdmin)
}

func (s *AuthService) issue(email, role string) (Session, error) {
	if len(s.Secret) == 0 {
		return Session{}, domain.InternalError{Msg: "jwt secret not configured"}
	}
	now := s.now()
	exp := now.Add(sessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return Session{}, domain.InternalError{Msg: "sign session", Err: err}
	}
	return Session{Token: signed, Email: email, Role: role, ExpiresAt: exp}, nil
}

// ParseSession validates a bearer token and returns its principal.
func (s *AuthService) ParseSession(raw string) (domain.RequestContext, error) {
	if len(s.Secret) == 0 {
		return domain.RequestContext{}, domain.InternalError{Msg: "jwt secret not configured"}
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		msg := "invalid session"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "session expired"
		}
		return domain.RequestContext{}, domain.UnauthorizedError{Msg: msg, Err: err}
	}
	if claims.Subject == "" || claims.Role == "" {
		return domain.RequestContext{}, domain.UnauthorizedError{Msg: "invalid session"}
	}
	return domain.RequestContext{Email: claims.Subject, Role: claims.Role}, nil
}
