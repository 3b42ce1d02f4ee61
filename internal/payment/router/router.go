package router

import (
	"slices"
	"sort"
	"strings"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

type Rule string

const (
	RuleExplicit         Rule = "explicit"
	RuleRegional         Rule = "regional"
	RuleMerchantOfRecord Rule = "merchant_of_record"
	RuleUniversal        Rule = "universal"
)

type RoutingContext struct {
	ExplicitProvider domain.ProviderName
	CustomerCountry  string
	Currency         string
	// Exclude drops providers that already failed for this request.
	Exclude []domain.ProviderName
}

type ProviderInfo struct {
	Name      domain.ProviderName
	Kind      domain.ProviderKind
	Countries []string
}

// Snapshot is everything the decision table looks at. It is built by the
// caller from configuration and breaker state, so the table itself stays pure.
type Snapshot struct {
	Providers           []ProviderInfo
	Healthy             map[domain.ProviderName]bool
	RegionalFallthrough bool
}

type Decision struct {
	Provider domain.ProviderName
	Rule     Rule
}

func (s Snapshot) lookup(name domain.ProviderName) (ProviderInfo, bool) {
	for _, p := range s.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

func (s Snapshot) byKind(kind domain.ProviderKind) []ProviderInfo {
	var out []ProviderInfo
	for _, p := range s.Providers {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s Snapshot) usable(name domain.ProviderName, rc RoutingContext) bool {
	return s.Healthy[name] && !slices.Contains(rc.Exclude, name)
}

// Candidates evaluates the decision table in order and returns every
// matching provider, first match first. The result is the fallthrough list
// used when the first choice fails with a retryable error.
func Candidates(rc RoutingContext, snap Snapshot) ([]Decision, error) {
	if len(snap.Providers) == 0 {
		return nil, domain.ErrNoProviderAvailable
	}

	var out []Decision
	seen := make(map[domain.ProviderName]bool)
	add := func(name domain.ProviderName, rule Rule) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Decision{Provider: name, Rule: rule})
	}

	// 1. explicit override
	if rc.ExplicitProvider != "" {
		if _, ok := snap.lookup(rc.ExplicitProvider); !ok {
			return nil, domain.ErrProviderNotFound
		}
		if snap.usable(rc.ExplicitProvider, rc) {
			add(rc.ExplicitProvider, RuleExplicit)
		}
	}

	// 2. regional specialist for the customer's country
	country := strings.ToUpper(strings.TrimSpace(rc.CustomerCountry))
	if country != "" {
		for _, p := range snap.byKind(domain.KindRegional) {
			if !slices.Contains(p.Countries, country) {
				continue
			}
			if snap.usable(p.Name, rc) {
				add(p.Name, RuleRegional)
				continue
			}
			if !snap.RegionalFallthrough && len(out) == 0 {
				return nil, domain.ErrNoProviderAvailable
			}
		}
	}

	// 3. merchant of record
	for _, p := range snap.byKind(domain.KindMerchantOfRecord) {
		if snap.usable(p.Name, rc) {
			add(p.Name, RuleMerchantOfRecord)
		}
	}

	// 4. universal fallback
	for _, p := range snap.byKind(domain.KindUniversal) {
		if snap.usable(p.Name, rc) {
			add(p.Name, RuleUniversal)
		}
	}

	// 5. nothing left
	if len(out) == 0 {
		return nil, domain.ErrNoProviderAvailable
	}
	return out, nil
}

func SelectProvider(rc RoutingContext, snap Snapshot) (Decision, error) {
	candidates, err := Candidates(rc, snap)
	if err != nil {
		return Decision{}, err
	}
	return candidates[0], nil
}
