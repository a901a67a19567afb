// Package domain defines the records behind the dashboard's list screens:
// webhook connections, team members, SMTP accounts, email-verification
// integrations and the activity log. Each record type declares the table.View
// its list endpoint searches, filters and sorts with.
package domain

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pabbly/hookdash/pkg/errors"
)

// NewID returns a fresh opaque record id.
func NewID() string {
	return uuid.NewString()
}

// Clock is overridden in tests.
var Clock = func() time.Time { return time.Now().UTC() }

func invalid(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, format, args...)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func validEmail(field, value string) error {
	if err := required(field, value); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(value); err != nil {
		return invalid("%s %q is not a valid email address", field, value)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid("%s must be one of %s", field, strings.Join(allowed, ", "))
}

// Connection statuses.
const (
	ConnectionActive   = "active"
	ConnectionInactive = "inactive"
)

// Connection routes webhook requests from a source to a destination.
type Connection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Requests    int       `json:"requests"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c Connection) RecordID() string { return c.ID }

// ConnectionInput is the body of a create-connection request.
type ConnectionInput struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
}

func (in ConnectionInput) Build() (Connection, error) {
	if in.Status == "" {
		in.Status = ConnectionActive
	}
	for _, err := range []error{
		required("name", in.Name),
		required("source", in.Source),
		required("destination", in.Destination),
		oneOf("status", in.Status, ConnectionActive, ConnectionInactive),
	} {
		if err != nil {
			return Connection{}, err
		}
	}
	return Connection{
		ID:          NewID(),
		Name:        in.Name,
		Source:      in.Source,
		Destination: in.Destination,
		Status:      in.Status,
		CreatedAt:   Clock(),
	}, nil
}

// Team member statuses.
const (
	MemberActive  = "active"
	MemberPending = "pending"
)

// TeamMember is someone a workspace has been shared with.
type TeamMember struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Permission string    `json:"permission"`
	Status     string    `json:"status"`
	SharedOn   time.Time `json:"sharedOn"`
}

func (m TeamMember) RecordID() string { return m.ID }

type TeamMemberInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

// Permissions a team member can be given.
const (
	PermissionFull     = "full"
	PermissionReadOnly = "read-only"
)

// Build creates a pending member; the invitation is accepted elsewhere.
func (in TeamMemberInput) Build() (TeamMember, error) {
	if in.Permission == "" {
		in.Permission = PermissionReadOnly
	}
	if err := validEmail("email", in.Email); err != nil {
		return TeamMember{}, err
	}
	if err := oneOf("permission", in.Permission, PermissionFull, PermissionReadOnly); err != nil {
		return TeamMember{}, err
	}
	name := in.Name
	if name == "" {
		name, _, _ = strings.Cut(in.Email, "@")
	}
	return TeamMember{
		ID:         NewID(),
		Name:       name,
		Email:      strings.ToLower(in.Email),
		Permission: in.Permission,
		Status:     MemberPending,
		SharedOn:   Clock(),
	}, nil
}

// SMTP account statuses.
const (
	SMTPConnected    = "connected"
	SMTPDisconnected = "disconnected"
)

// SMTPAccount is an outgoing mail server used for notifications.
type SMTPAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	FromEmail string    `json:"fromEmail"`
	Security  string    `json:"security"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a SMTPAccount) RecordID() string { return a.ID }

type SMTPAccountInput struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FromEmail string `json:"fromEmail"`
	Security  string `json:"security"`
}

// Build validates the account. The password is checked for presence and
// then dropped; it is never stored or echoed.
func (in SMTPAccountInput) Build() (SMTPAccount, error) {
	if in.Security == "" {
		in.Security = "tls"
	}
	for _, err := range []error{
		required("name", in.Name),
		required("host", in.Host),
		required("username", in.Username),
		required("password", in.Password),
		validEmail("fromEmail", in.FromEmail),
		oneOf("security", in.Security, "none", "ssl", "tls"),
	} {
		if err != nil {
			return SMTPAccount{}, err
		}
	}
	if in.Port <= 0 || in.Port > 65535 {
		return SMTPAccount{}, invalid("port %d is out of range", in.Port)
	}
	return SMTPAccount{
		ID:        NewID(),
		Name:      in.Name,
		Host:      in.Host,
		Port:      in.Port,
		Username:  in.Username,
		FromEmail: in.FromEmail,
		Security:  in.Security,
		Status:    SMTPConnected,
		CreatedAt: Clock(),
	}, nil
}

// Integration statuses.
const (
	IntegrationActive   = "active"
	IntegrationInactive = "inactive"
)

// Integration is a connected email-verification provider.
type Integration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"apiKey"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (i Integration) RecordID() string { return i.ID }

type IntegrationInput struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

func (in IntegrationInput) Build() (Integration, error) {
	for _, err := range []error{
		required("name", in.Name),
		required("provider", in.Provider),
		required("apiKey", in.APIKey),
	} {
		if err != nil {
			return Integration{}, err
		}
	}
	return Integration{
		ID:        NewID(),
		Name:      in.Name,
		Provider:  in.Provider,
		APIKey:    MaskSecret(in.APIKey),
		Status:    IntegrationActive,
		CreatedAt: Clock(),
	}, nil
}

// MaskSecret keeps the last four characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Activity statuses double as the action taken on the record.
const (
	ActivityCreated = "created"
	ActivityUpdated = "updated"
	ActivityDeleted = "deleted"
)

// Actor is who performed an activity.
type Actor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ActivityData identifies the record an activity touched.
type ActivityData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ActivityLog is one entry of the audit feed.
type ActivityLog struct {
	ID         string       `json:"id"`
	Actor      Actor        `json:"actor"`
	Event      string       `json:"event"`
	Status     string       `json:"status"`
	Data       ActivityData `json:"activityData"`
	Source     string       `json:"source"`
	OccurredAt time.Time    `json:"occurredAt"`
}

func (l ActivityLog) RecordID() string { return l.ID }

// Validate checks an entry received from another instance.
func (l ActivityLog) Validate() error {
	if err := required("id", l.ID); err != nil {
		return err
	}
	if err := required("event", l.Event); err != nil {
		return err
	}
	if err := oneOf("status", l.Status, ActivityCreated, ActivityUpdated, ActivityDeleted); err != nil {
		return err
	}
	if l.OccurredAt.IsZero() {
		return invalid("occurredAt is required")
	}
	return nil
}

// EventName builds names such as "connection.created".
func EventName(recordType, status string) string {
	return fmt.Sprintf("%s.%s", recordType, status)
}
