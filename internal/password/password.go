// Package password validates candidate passwords against a policy.
// Every rule runs and every failure is reported; a user fixing a
// password should see the whole list at once, not one complaint per
// attempt.
package password

import (
	"fmt"
	"strings"
	"time"

	"warden/internal/domain"
)

// Policy is the constraint set one password policy carries.
type Policy struct {
	MinLength int
	MaxLength int

	MinAlpha     int
	MinNumeric   int
	MinUpper     int
	MinLower     int
	MinSpecial   int
	MinCharTypes int

	// MaxRepeatedChars caps a run of the same character; zero
	// disables the check.
	MaxRepeatedChars int

	// MinUniqueChars requires this many distinct characters.
	MinUniqueChars int

	// HistoryDepth enables reuse checking against that many previous
	// password hashes.
	HistoryDepth int

	// Dictionary words the password must not contain,
	// case-insensitively.
	Dictionary []string

	// IdentityAttributes whose values the password must not contain.
	IdentityAttributes []string

	// CheckAccountAttributes extends the containment check to the
	// identity's account attribute values.
	CheckAccountAttributes bool

	// MinChangeDuration rejects changes too soon after the last one.
	MinChangeDuration time.Duration
}

// Subject is everything about the owner a validation can use.
type Subject struct {
	Identity *domain.Identity
	Links    []*domain.Link

	// HistoryHashes are bcrypt hashes of previous passwords, newest
	// first.
	HistoryHashes []string
	LastChange    *time.Time
}

// ViolationError carries every failed constraint of one validation.
type ViolationError struct {
	Messages []string
}

// Error joins all messages.
func (e *ViolationError) Error() string {
	return "password policy: " + strings.Join(e.Messages, "; ")
}

// Validate checks password against policy. All rules run; the
// returned *ViolationError lists every failure. Nil means the
// password passes.
func Validate(policy Policy, password string, subject Subject) error {
	v := &violations{}

	checkLength(policy, password, v)
	checkCharClasses(policy, password, v)
	checkRepeats(policy, password, v)
	checkUnique(policy, password, v)
	checkHistory(policy, password, subject, v)
	checkDictionary(policy, password, v)
	checkAttributes(policy, password, subject, v)
	checkChangeDuration(policy, subject, v)

	if len(v.messages) == 0 {
		return nil
	}
	return &ViolationError{Messages: v.messages}
}

type violations struct {
	messages []string
}

func (v *violations) addf(format string, args ...any) {
	v.messages = append(v.messages, fmt.Sprintf(format, args...))
}
