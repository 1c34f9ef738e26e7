// Package domain holds the User aggregate shared by the CLI, the example and the
// backend conformance suite.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/codewandler/streamstore/core/es"
)

const AggregateType = "user"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user does not exist")
	ErrUserDeleted  = errors.New("user is deleted")
)

// Role is persisted by name.
type Role uint8

const (
	RoleMember Role = iota
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	default:
		return "member"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "member":
		*r = RoleMember
	case "admin":
		*r = RoleAdmin
	default:
		return fmt.Errorf("unknown role %q", b)
	}
	return nil
}

// === Events ===

type (
	UserCreated struct {
		Email     string       `json:"email"`
		Role      Role         `json:"role"`
		Locale    language.Tag `json:"locale"`
		InvitedBy es.ActorID   `json:"invited_by,omitempty"`
	}
	UserSignedIn struct {
		At time.Time `json:"at"`
	}
	UserEmailChanged struct {
		Email string `json:"email"`
	}
	UserLocaleChanged struct {
		Locale language.Tag `json:"locale"`
	}
	UserDeleted  struct{}
	UserRestored struct{}
)

func (UserCreated) EventType() string       { return "user.created" }
func (UserSignedIn) EventType() string      { return "user.signed_in" }
func (UserEmailChanged) EventType() string  { return "user.email_changed" }
func (UserLocaleChanged) EventType() string { return "user.locale_changed" }
func (UserDeleted) EventType() string       { return "user.deleted" }
func (UserRestored) EventType() string      { return "user.restored" }

func (e UserCreated) Validate() error      { return validateEmail(e.Email) }
func (e UserEmailChanged) Validate() error { return validateEmail(e.Email) }

func validateEmail(email string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}

// Events returns the constructors of every User payload.
func Events() []func() es.Payload {
	return []func() es.Payload{
		es.Ctor[UserCreated](),
		es.Ctor[UserSignedIn](),
		es.Ctor[UserEmailChanged](),
		es.Ctor[UserLocaleChanged](),
		es.Ctor[UserDeleted](),
		es.Ctor[UserRestored](),
	}
}

func RegisterEvents(r es.Registrar) { es.RegisterEvents(r, Events()...) }

// === Aggregate ===

type User struct {
	es.BaseAggregate

	Email        string
	Role         Role
	Locale       language.Tag
	InvitedBy    es.ActorID
	SignInCount  int
	LastSignedIn time.Time
}

func NewUser() *User { return &User{} }

func (u *User) AggregateType() string { return AggregateType }

func (u *User) Handle(e es.Event) error {
	switch p := e.Payload.(type) {
	case *UserCreated:
		u.Email = p.Email
		u.Role = p.Role
		u.Locale = p.Locale
		u.InvitedBy = p.InvitedBy
	case *UserSignedIn:
		u.SignInCount++
		u.LastSignedIn = p.At
	case *UserEmailChanged:
		u.Email = p.Email
	case *UserLocaleChanged:
		u.Locale = p.Locale
	case *UserDeleted, *UserRestored:
	default:
		return es.HandlerNotFound(u, e)
	}
	return nil
}

// === Commands ===

func (u *User) Create(email string, role Role, locale language.Tag, opts ...es.RaiseOption) error {
	if u.Version() > 0 {
		return ErrUserExists
	}
	return es.Raise(u, &UserCreated{Email: email, Role: role, Locale: locale}, opts...)
}

func (u *User) SignIn(at time.Time, opts ...es.RaiseOption) error {
	if err := u.mustBeActive(); err != nil {
		return err
	}
	return es.Raise(u, &UserSignedIn{At: at.UTC()}, opts...)
}

func (u *User) ChangeEmail(email string, opts ...es.RaiseOption) error {
	if err := u.mustBeActive(); err != nil {
		return err
	}
	if email == u.Email {
		return nil
	}
	return es.Raise(u, &UserEmailChanged{Email: email}, opts...)
}

func (u *User) ChangeLocale(locale language.Tag, opts ...es.RaiseOption) error {
	if err := u.mustBeActive(); err != nil {
		return err
	}
	return es.Raise(u, &UserLocaleChanged{Locale: locale}, opts...)
}

func (u *User) Delete(opts ...es.RaiseOption) error {
	if err := u.mustBeActive(); err != nil {
		return err
	}
	return es.Raise(u, &UserDeleted{}, append(opts, es.WithDelete())...)
}

func (u *User) Restore(opts ...es.RaiseOption) error {
	if u.Version() == 0 {
		return ErrUserNotFound
	}
	if !u.IsDeleted() {
		return nil
	}
	return es.Raise(u, &UserRestored{}, append(opts, es.WithUndelete())...)
}

func (u *User) mustBeActive() error {
	if u.Version() == 0 {
		return ErrUserNotFound
	}
	if u.IsDeleted() {
		return ErrUserDeleted
	}
	return nil
}

var _ es.Aggregate = (*User)(nil)
