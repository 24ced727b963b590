package schedule

import "github.com/kursadbilgin/lead-retry-engine/internal/domain"

// PolicyResolver maps a lead policy key to its retry policy.
type PolicyResolver struct {
	defaultPolicy Policy
	policies      map[domain.PolicyKey]Policy
}

func NewPolicyResolver(cfg Config) *PolicyResolver {
	policies := make(map[domain.PolicyKey]Policy, len(cfg.Policies))
	for key, p := range cfg.Policies {
		policies[key] = p
	}
	return &PolicyResolver{
		defaultPolicy: cfg.DefaultPolicy,
		policies:      policies,
	}
}

// Resolve is total: keys without a dedicated variant get the default policy.
func (r *PolicyResolver) Resolve(key domain.PolicyKey) Policy {
	if p, ok := r.policies[key]; ok {
		return p
	}
	return r.defaultPolicy
}
