package correlate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	pstore "warden/internal/platform/store"
	"warden/internal/rule"
)

// ============================================================
// Suite
// ============================================================

type CorrelateSuite struct {
	suite.Suite
	ctx    context.Context
	idents *idstore.MemoryIdentities
	links  *pstore.Memory[*domain.Link]
	runner *rule.Fake
	engine *Engine
}

func TestCorrelateSuite(t *testing.T) {
	suite.Run(t, new(CorrelateSuite))
}

func (s *CorrelateSuite) SetupTest() {
	s.ctx = context.Background()
	s.idents = idstore.NewMemoryIdentities()
	s.links = idstore.NewMemoryLinks()
	s.runner = &rule.Fake{Results: map[string]any{}, Errs: map[string]error{}}
	s.engine = New(s.idents, s.links, s.runner)

	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{
		ID:   "ident-1",
		Name: "amanda.ross",
		Attributes: map[string]any{
			"employeeId": "10042",
		},
	}))
}

func account() *domain.Link {
	return &domain.Link{
		Application:    "Active Directory",
		NativeIdentity: "CN=Amanda Ross",
		Attributes: map[string]any{
			"badge": "10042",
			"dept":  "Payroll",
		},
	}
}

// ============================================================
// Strategy order
// ============================================================

func (s *CorrelateSuite) TestDirectAssignmentWins() {
	cfg := &Config{
		DirectAssignments: []DirectAssignment{{
			IdentityName: "amanda.ross",
			Conditions:   []Condition{{AccountAttribute: "dept", Value: "payroll"}},
		}},
		AttributePairs: []AttributePair{{IdentityAttribute: "employeeId", AccountAttribute: "badge"}},
		Rules:          []string{"fallback"},
	}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("ident-1", res.Identity.ID)
	s.Equal("Condition Based", res.Attribute)
	s.Empty(s.runner.Calls)
}

func (s *CorrelateSuite) TestFallsThroughToAttributePair() {
	cfg := &Config{
		DirectAssignments: []DirectAssignment{{
			IdentityName: "amanda.ross",
			Conditions:   []Condition{{AccountAttribute: "dept", Value: "Engineering"}},
		}},
		AttributePairs: []AttributePair{{IdentityAttribute: "employeeId", AccountAttribute: "badge"}},
	}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("ident-1", res.Identity.ID)
	s.Contains(res.Attribute, "employeeId")
}

func (s *CorrelateSuite) TestAmbiguousPairSkipsToRules() {
	// A second identity sharing the employee id makes the pair
	// unusable; guessing would correlate the account to the wrong
	// person.
	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{
		ID:         "ident-2",
		Name:       "amanda.ross.contractor",
		Attributes: map[string]any{"employeeId": "10042"},
	}))
	cfg := &Config{
		AttributePairs: []AttributePair{{IdentityAttribute: "employeeId", AccountAttribute: "badge"}},
		Rules:          []string{"resolver"},
	}
	s.runner.Results["resolver"] = map[string]any{"identityName": "amanda.ross"}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("ident-1", res.Identity.ID)
	s.Equal([]string{"resolver"}, s.runner.Calls)
}

func (s *CorrelateSuite) TestNoStrategyHitsReturnsNil() {
	cfg := &Config{
		AttributePairs: []AttributePair{{IdentityAttribute: "employeeId", AccountAttribute: "missing"}},
		Rules:          []string{"declines"},
	}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Nil(res)
}

// ============================================================
// Rules
// ============================================================

func (s *CorrelateSuite) TestRuleReturningNonMapIsError() {
	s.runner.Results["broken"] = "amanda.ross"
	cfg := &Config{Rules: []string{"broken"}}

	_, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().Error(err)
	s.Contains(err.Error(), "did not return a map")
}

func (s *CorrelateSuite) TestRuleIdentityObjectIsRefetched() {
	stale := &domain.Identity{ID: "ident-1", Name: "stale.copy"}
	s.runner.Results["byobject"] = map[string]any{"identity": stale}
	cfg := &Config{Rules: []string{"byobject"}}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("amanda.ross", res.Identity.Name)
	s.Equal("identity = amanda.ross", res.Attribute)
}

func (s *CorrelateSuite) TestRuleAttributeSelectorWithCrumbOverride() {
	s.runner.Results["byattr"] = map[string]any{
		"identityAttributeName":  "employeeId",
		"identityAttributeValue": "10042",
		"correlationAttribute":   "hr feed",
	}
	cfg := &Config{Rules: []string{"byattr"}}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("hr feed", res.Attribute)
}

func (s *CorrelateSuite) TestFirstNonNilRuleWins() {
	s.runner.Results["second"] = map[string]any{"identityName": "amanda.ross"}
	cfg := &Config{Rules: []string{"first", "second", "third"}}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal([]string{"first", "second"}, s.runner.Calls)
}

// ============================================================
// Ambiguity and locking
// ============================================================

func (s *CorrelateSuite) TestAmbiguousIdentityNameIsMissNotError() {
	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{ID: "dup-1", Name: "dup"}))
	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{ID: "dup-2", Name: "dup"}))
	cfg := &Config{
		DirectAssignments: []DirectAssignment{{
			IdentityName: "dup",
			Conditions:   []Condition{{AccountAttribute: "dept", Value: "Payroll"}},
		}},
	}

	res, err := s.engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Nil(res)
}

func (s *CorrelateSuite) TestLockingClaimsIdentity() {
	engine := New(s.idents, s.links, s.runner, WithLocking("aggregator-1"))
	cfg := &Config{
		AttributePairs: []AttributePair{{IdentityAttribute: "employeeId", AccountAttribute: "badge"}},
	}

	res, err := engine.Correlate(s.ctx, cfg, account())
	s.Require().NoError(err)
	s.Require().NotNil(res)

	identity, err := s.idents.Get(s.ctx, "ident-1")
	s.Require().NoError(err)
	s.Require().NotNil(identity.LockOwner)
	s.Equal("aggregator-1", *identity.LockOwner)
}

// ============================================================
// Account correlation
// ============================================================

func (s *CorrelateSuite) saveLink(l *domain.Link) {
	s.Require().NoError(s.links.Save(s.ctx, l))
}

func (s *CorrelateSuite) TestFindLinkByNativeIdentity() {
	s.saveLink(&domain.Link{
		ID:             "link-1",
		Application:    "Active Directory",
		NativeIdentity: "CN=Amanda Ross",
	})

	link, err := s.engine.FindLink(s.ctx, "Active Directory", "", "cn=amanda ross", "")
	s.Require().NoError(err)
	s.Require().NotNil(link)
	s.Equal("link-1", link.ID)

	link, err = s.engine.FindLink(s.ctx, "Workday", "", "cn=amanda ross", "")
	s.Require().NoError(err)
	s.Nil(link)
}

func (s *CorrelateSuite) TestFindLinkNeedsSomeSelector() {
	_, err := s.engine.FindLink(s.ctx, "Active Directory", "", "", "")
	s.Error(err)
}

func (s *CorrelateSuite) TestFindLinkAmbiguityIsMiss() {
	s.saveLink(&domain.Link{ID: "link-1", Application: "Active Directory", NativeIdentity: "CN=Amanda Ross"})
	s.saveLink(&domain.Link{ID: "link-2", Application: "Active Directory", NativeIdentity: "cn=Amanda Ross"})

	link, err := s.engine.FindLink(s.ctx, "Active Directory", "", "CN=Amanda Ross", "")
	s.Require().NoError(err)
	s.Nil(link)
}

func (s *CorrelateSuite) TestFindLinkByCorrelationKey() {
	app := &domain.Application{
		Name: "Active Directory",
		AccountSchema: domain.Schema{Attributes: []domain.SchemaAttribute{
			{Name: "employeeNumber", CorrelationKey: 1},
			{Name: "dept"},
		}},
	}
	s.saveLink(&domain.Link{
		ID:          "link-1",
		Application: "Active Directory",
		Key1:        domain.StrPtr("10042"),
	})

	link, err := s.engine.FindLinkByAttribute(s.ctx, app, "employeeNumber", "10042")
	s.Require().NoError(err)
	s.Require().NotNil(link)
	s.Equal("link-1", link.ID)

	_, err = s.engine.FindLinkByAttribute(s.ctx, app, "dept", "Payroll")
	s.Require().Error(err)
	s.Contains(err.Error(), "not a correlation key")
}

func (s *CorrelateSuite) TestFindLinkByUUID() {
	s.saveLink(&domain.Link{
		ID:          "link-1",
		Application: "Active Directory",
		UUID:        domain.StrPtr("uuid-77"),
	})

	link, err := s.engine.FindLinkByUUID(s.ctx, "Active Directory", "uuid-77")
	s.Require().NoError(err)
	s.Require().NotNil(link)
	s.Equal("link-1", link.ID)
}
