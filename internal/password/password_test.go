package password

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"warden/internal/domain"
)

// ============================================================
// Suite
// ============================================================

type PasswordSuite struct {
	suite.Suite
}

func TestPasswordSuite(t *testing.T) {
	suite.Run(t, new(PasswordSuite))
}

func (s *PasswordSuite) violations(policy Policy, password string, subject Subject) []string {
	err := Validate(policy, password, subject)
	if err == nil {
		return nil
	}
	var verr *ViolationError
	s.Require().ErrorAs(err, &verr)
	return verr.Messages
}

// ============================================================
// Length and character classes
// ============================================================

func (s *PasswordSuite) TestValidPasswordPasses() {
	policy := Policy{MinLength: 8, MinNumeric: 1, MinUpper: 1, MinSpecial: 1}
	s.NoError(Validate(policy, "Tr1cky!pass", Subject{}))
}

func (s *PasswordSuite) TestAllFailuresAccumulate() {
	policy := Policy{
		MinLength:  10,
		MinNumeric: 2,
		MinUpper:   1,
		MinSpecial: 1,
	}

	msgs := s.violations(policy, "abc", Subject{})
	s.Len(msgs, 4)
	s.Contains(msgs[0], "at least 10 characters")
}

func (s *PasswordSuite) TestCharTypeMix() {
	policy := Policy{MinCharTypes: 3}

	s.Run("two types fail", func() {
		msgs := s.violations(policy, "abcdef12", Subject{})
		s.Len(msgs, 1)
	})

	s.Run("upper and lower count as one extra type", func() {
		s.NoError(Validate(policy, "Abcdef12", Subject{}))
	})
}

func (s *PasswordSuite) TestRepeatsAndUnique() {
	policy := Policy{MaxRepeatedChars: 2, MinUniqueChars: 5}

	msgs := s.violations(policy, "aaab", Subject{})
	s.Len(msgs, 2)

	s.NoError(Validate(policy, "abcde", Subject{}))
}

// ============================================================
// History, dictionary, attributes
// ============================================================

func (s *PasswordSuite) TestHistoryReuse() {
	old, err := bcrypt.GenerateFromPassword([]byte("OldSecret9"), bcrypt.MinCost)
	s.Require().NoError(err)

	policy := Policy{HistoryDepth: 3}
	subject := Subject{HistoryHashes: []string{string(old)}}

	msgs := s.violations(policy, "OldSecret9", subject)
	s.Len(msgs, 1)
	s.Contains(msgs[0], "previous 3 passwords")

	s.NoError(Validate(policy, "FreshSecret1", subject))
}

func (s *PasswordSuite) TestHistoryDepthLimitsComparison() {
	old, err := bcrypt.GenerateFromPassword([]byte("Ancient4"), bcrypt.MinCost)
	s.Require().NoError(err)

	// The matching hash sits beyond HistoryDepth, so it is ignored.
	policy := Policy{HistoryDepth: 1}
	subject := Subject{HistoryHashes: []string{"$2a$04$notamatchnotamatchnota", string(old)}}
	s.NoError(Validate(policy, "Ancient4", subject))
}

func (s *PasswordSuite) TestDictionary() {
	policy := Policy{Dictionary: []string{"Password", "qwerty"}}

	msgs := s.violations(policy, "myPASSWORD1", Subject{})
	s.Len(msgs, 1)

	s.NoError(Validate(policy, "unrelated", Subject{}))
}

func (s *PasswordSuite) TestIdentityAttributeContainment() {
	policy := Policy{IdentityAttributes: []string{"lastname"}}
	subject := Subject{Identity: &domain.Identity{
		Attributes: map[string]any{"lastname": "Mendez"},
	}}

	msgs := s.violations(policy, "mendez2024", subject)
	s.Len(msgs, 1)
	s.Contains(msgs[0], "lastname")
}

func (s *PasswordSuite) TestShortAttributeValuesIgnored() {
	// Two-character values would reject nearly everything.
	policy := Policy{IdentityAttributes: []string{"initials"}}
	subject := Subject{Identity: &domain.Identity{
		Attributes: map[string]any{"initials": "ab"},
	}}
	s.NoError(Validate(policy, "abundant1", subject))
}

func (s *PasswordSuite) TestAccountAttributeContainment() {
	policy := Policy{CheckAccountAttributes: true}
	subject := Subject{Links: []*domain.Link{
		{Application: "Active Directory", NativeIdentity: "jmendez"},
	}}

	msgs := s.violations(policy, "xxJMENDEZxx", subject)
	s.Len(msgs, 1)
	s.Contains(msgs[0], "Active Directory")
}

// ============================================================
// Change interval
// ============================================================

func (s *PasswordSuite) TestMinChangeDuration() {
	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-48 * time.Hour)
	policy := Policy{MinChangeDuration: 24 * time.Hour}

	msgs := s.violations(policy, "whatever", Subject{LastChange: &recent})
	s.Len(msgs, 1)

	s.NoError(Validate(policy, "whatever", Subject{LastChange: &stale}))
}
