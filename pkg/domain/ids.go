// Package domain defines typed identifiers shared across the correlation
// engine. Distinct types prevent cross-assignment of IDs at compile time;
// parsing enforces the "valid, non-empty, non-nil UUID" invariant at trust
// boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "correlate/pkg/domain-errors"
)

// UUID-backed identifiers.
type (
	// ConnectorID identifies an external identity source (LDAP, SCIM, HR feed).
	ConnectorID uuid.UUID
	// IdentityID identifies an internal identity record.
	IdentityID uuid.UUID
	// RuleID identifies a correlation rule.
	RuleID uuid.UUID
	// CaseID identifies a manual-review case.
	CaseID uuid.UUID
	// EventID identifies an audit ledger entry.
	EventID uuid.UUID
	// UserID identifies a human operator acting through the admin surface.
	UserID uuid.UUID
)

// AccountID is the connector-scoped identifier of an external account. It is
// assigned by the connector, not by us, so it stays an opaque string.
type AccountID string

func (a AccountID) String() string { return string(a) }

// IsEmpty reports whether the account ID is missing.
func (a AccountID) IsEmpty() bool { return a == "" }

func parseUUID(raw string, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", kind)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s: must be a UUID", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", kind)
	}
	return u, nil
}

// ParseConnectorID parses and validates a connector ID.
func ParseConnectorID(raw string) (ConnectorID, error) {
	u, err := parseUUID(raw, "connector_id")
	return ConnectorID(u), err
}

// ParseIdentityID parses and validates an identity ID.
func ParseIdentityID(raw string) (IdentityID, error) {
	u, err := parseUUID(raw, "identity_id")
	return IdentityID(u), err
}

// ParseRuleID parses and validates a rule ID.
func ParseRuleID(raw string) (RuleID, error) {
	u, err := parseUUID(raw, "rule_id")
	return RuleID(u), err
}

// ParseCaseID parses and validates a case ID.
func ParseCaseID(raw string) (CaseID, error) {
	u, err := parseUUID(raw, "case_id")
	return CaseID(u), err
}

// ParseEventID parses and validates an audit event ID.
func ParseEventID(raw string) (EventID, error) {
	u, err := parseUUID(raw, "event_id")
	return EventID(u), err
}

// ParseUserID parses and validates a user ID.
func ParseUserID(raw string) (UserID, error) {
	u, err := parseUUID(raw, "user_id")
	return UserID(u), err
}

func (i ConnectorID) String() string { return uuid.UUID(i).String() }
func (i IdentityID) String() string  { return uuid.UUID(i).String() }
func (i RuleID) String() string      { return uuid.UUID(i).String() }
func (i CaseID) String() string      { return uuid.UUID(i).String() }
func (i EventID) String() string     { return uuid.UUID(i).String() }
func (i UserID) String() string      { return uuid.UUID(i).String() }

// Typed IDs travel as canonical UUID strings in JSON and query params, so each
// delegates text marshaling to the underlying uuid.UUID.
func (i ConnectorID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i IdentityID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i RuleID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i CaseID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i EventID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }
func (i UserID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }

func (i *ConnectorID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = ConnectorID(u)
	return err
}

func (i *IdentityID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = IdentityID(u)
	return err
}

func (i *RuleID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = RuleID(u)
	return err
}

func (i *CaseID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = CaseID(u)
	return err
}

func (i *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = EventID(u)
	return err
}

func (i *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*i = UserID(u)
	return err
}

func (i ConnectorID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i IdentityID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i RuleID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i CaseID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i EventID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i UserID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }

// NewConnectorID mints a fresh connector ID.
func NewConnectorID() ConnectorID { return ConnectorID(uuid.New()) }

// NewIdentityID mints a fresh identity ID.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

// NewRuleID mints a fresh rule ID.
func NewRuleID() RuleID { return RuleID(uuid.New()) }

// NewCaseID mints a fresh case ID.
func NewCaseID() CaseID { return CaseID(uuid.New()) }

// NewEventID mints a fresh event ID.
func NewEventID() EventID { return EventID(uuid.New()) }
