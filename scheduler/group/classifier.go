package group

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/twitter/querysched/scheduler/domain"
)

// Classifier picks the group key for a request.
type Classifier interface {
	Classify(req *domain.QueryRequest) string
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(req *domain.QueryRequest) string

func (f ClassifierFunc) Classify(req *domain.QueryRequest) string { return f(req) }

// ByTable groups requests by the table they query.
var ByTable = ClassifierFunc(func(req *domain.QueryRequest) string { return orDefault(req.Table) })

// ByTenant groups requests by the tenant issuing them.
var ByTenant = ClassifierFunc(func(req *domain.QueryRequest) string { return orDefault(req.Tenant) })

func orDefault(key string) string {
	if key == "" {
		return DefaultKey
	}
	return key
}

// Rule maps identities matching Pattern to Group.
type Rule struct {
	Pattern string
	Group   string
}

type compiledRule struct {
	re    *regexp.Regexp
	group string
}

// DefaultRuleCacheSize bounds how many identity to group resolutions a
// RuleClassifier remembers.
const DefaultRuleCacheSize = 4096

// RuleClassifier resolves the identity produced by base through an ordered
// list of regex rules. The first matching rule wins; an identity matching no
// rule is its own group key. Resolutions are cached.
type RuleClassifier struct {
	base  Classifier
	rules []compiledRule
	cache *lru.Cache
}

func NewRuleClassifier(base Classifier, rules []Rule, cacheSize int) (*RuleClassifier, error) {
	if base == nil {
		return nil, errors.New("rule classifier needs a base classifier")
	}
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Group == "" {
			return nil, fmt.Errorf("classifier rule %d (%q) has no group", i, r.Pattern)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "classifier rule %d", i)
		}
		compiled = append(compiled, compiledRule{re: re, group: r.Group})
	}
	if cacheSize <= 0 {
		cacheSize = DefaultRuleCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &RuleClassifier{base: base, rules: compiled, cache: cache}, nil
}

func (c *RuleClassifier) Classify(req *domain.QueryRequest) string {
	identity := c.base.Classify(req)
	if key, ok := c.cache.Get(identity); ok {
		return key.(string)
	}
	key := identity
	for _, r := range c.rules {
		if r.re.MatchString(identity) {
			key = r.group
			break
		}
	}
	c.cache.Add(identity, key)
	return key
}

// CacheLen is the number of cached resolutions.
func (c *RuleClassifier) CacheLen() int { return c.cache.Len() }

// NewClassifier builds a classifier by type name: "table" or "tenant", with
// optional rules layered on top. An empty type means "table".
func NewClassifier(typ string, rules []Rule) (Classifier, error) {
	var base Classifier
	switch typ {
	case "", "table":
		base = ByTable
	case "tenant":
		base = ByTenant
	default:
		return nil, fmt.Errorf("unknown classifier type %q", typ)
	}
	if len(rules) == 0 {
		return base, nil
	}
	return NewRuleClassifier(base, rules, DefaultRuleCacheSize)
}
