// Package lifecycle holds the status transition table for back-office resources.
//
// Everything here is free of I/O: callers read the persisted status, ask Apply
// for a Decision and then issue a conditional write guarded by Decision.From.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies a resource family.
type Kind string

const (
	KindAccount  Kind = "account"
	KindMerchant Kind = "merchant"
)

// Status is a persisted resource status. Account and merchant statuses use
// different casing in storage and are kept verbatim.
type Status string

const (
	AccountPending   Status = "Pending"
	AccountActive    Status = "Active"
	AccountSuspended Status = "Suspended"
	AccountInactive  Status = "Inactive"

	MerchantPending   Status = "pending"
	MerchantActive    Status = "active"
	MerchantSuspended Status = "suspended"
	MerchantRejected  Status = "rejected"
)

// Action names an administrative transition.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
	ActionReject     Action = "reject"
)

// ErrRejected is matched by every *RejectedError.
var ErrRejected = errors.New("lifecycle: transition rejected")

// RejectedError reports a transition that the table does not allow.
type RejectedError struct {
	Kind   Kind
	From   Status
	Action Action
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("lifecycle: %s %s from %q: %s", e.Kind, e.Action, e.From, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

const (
	reasonNotEligible = "not eligible"
	reasonUnsupported = "unsupported"
)

// Effect describes what a rule does to the reason field and deletion marker.
type Effect struct {
	SetReason   bool
	ClearReason bool
	SoftDelete  bool
}

// Rule is one row of the transition table.
type Rule struct {
	From   []Status
	To     Status
	Effect Effect
}

func (r Rule) allows(s Status) bool {
	for _, from := range r.From {
		if from == s {
			return true
		}
	}
	return false
}

// Table maps kind and action to the rule that governs it. Anything absent is rejected.
var Table = map[Kind]map[Action]Rule{
	KindAccount: {
		ActionApprove: {
			From:   []Status{AccountPending},
			To:     AccountActive,
			Effect: Effect{ClearReason: true},
		},
		ActionSuspend: {
			From:   []Status{AccountActive},
			To:     AccountSuspended,
			Effect: Effect{SetReason: true},
		},
		ActionReactivate: {
			From:   []Status{AccountSuspended},
			To:     AccountActive,
			Effect: Effect{ClearReason: true},
		},
		ActionReject: {
			From:   []Status{AccountPending, AccountActive},
			To:     AccountInactive,
			Effect: Effect{SetReason: true, SoftDelete: true},
		},
	},
	KindMerchant: {
		ActionApprove: {
			From:   []Status{MerchantPending},
			To:     MerchantActive,
			Effect: Effect{ClearReason: true},
		},
		ActionSuspend: {
			From:   []Status{MerchantActive},
			To:     MerchantSuspended,
			Effect: Effect{SetReason: true},
		},
		// Only suspended merchants come back; rejected ones stay rejected.
		ActionReactivate: {
			From:   []Status{MerchantSuspended},
			To:     MerchantActive,
			Effect: Effect{ClearReason: true},
		},
		ActionReject: {
			From:   []Status{MerchantPending, MerchantActive, MerchantSuspended},
			To:     MerchantRejected,
			Effect: Effect{SetReason: true},
		},
	},
}

// Payload carries the optional operator input of a transition.
type Payload struct {
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Patch is the exact change a conditional update must apply. At stamps both
// updated_at and last_activity, and deleted_at when SoftDelete is set.
type Patch struct {
	Status      Status
	Reason      *string
	ClearReason bool
	SoftDelete  bool
	At          time.Time
}

// Decision is the result of a legal transition.
type Decision struct {
	Kind   Kind
	Action Action
	From   Status
	To     Status
	Patch  Patch
}

// Apply decides whether action may move a resource of kind out of current.
// now must come from the server clock.
func Apply(kind Kind, current Status, action Action, p Payload, now time.Time) (Decision, error) {
	rule, ok := Table[kind][action]
	if !ok {
		return Decision{}, &RejectedError{Kind: kind, From: current, Action: action, Reason: reasonUnsupported}
	}
	if !rule.allows(current) {
		return Decision{}, &RejectedError{Kind: kind, From: current, Action: action, Reason: reasonNotEligible}
	}

	patch := Patch{
		Status:     rule.To,
		SoftDelete: rule.Effect.SoftDelete,
		At:         now.UTC(),
	}
	switch {
	case rule.Effect.SetReason:
		if reason := strings.TrimSpace(p.Reason); reason != "" {
			patch.Reason = &reason
		}
	case rule.Effect.ClearReason:
		patch.ClearReason = true
	}

	return Decision{
		Kind:   kind,
		Action: action,
		From:   current,
		To:     rule.To,
		Patch:  patch,
	}, nil
}

// Allowed reports whether the table has an entry for the triple.
func Allowed(kind Kind, current Status, action Action) bool {
	rule, ok := Table[kind][action]
	return ok && rule.allows(current)
}

// Actions lists the actions defined for kind in a stable order.
func Actions(kind Kind) []Action {
	rules := Table[kind]
	out := make([]Action, 0, len(rules))
	for a := range rules {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses lists every status a resource of kind may hold.
func Statuses(kind Kind) []Status {
	switch kind {
	case KindAccount:
		return []Status{AccountPending, AccountActive, AccountSuspended, AccountInactive}
	case KindMerchant:
		return []Status{MerchantPending, MerchantActive, MerchantSuspended, MerchantRejected}
	default:
		return nil
	}
}

// ParseKind accepts the plural route segment or the singular kind name.
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "account", "accounts":
		return KindAccount, true
	case "merchant", "merchants":
		return KindMerchant, true
	default:
		return "", false
	}
}

// ParseAction validates raw against the known action names.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionApprove, ActionSuspend, ActionReactivate, ActionReject:
		return a, true
	default:
		return "", false
	}
}

// Title returns the capitalised kind name used in client-facing messages.
func (k Kind) Title() string {
	switch k {
	case KindAccount:
		return "Account"
	case KindMerchant:
		return "Merchant"
	default:
		return "Resource"
	}
}
