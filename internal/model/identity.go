package model

// IdentityKind classifies a caller for quota purposes.
type IdentityKind string

const (
	IdentityAnonymous  IdentityKind = "anonymous"
	IdentityFree       IdentityKind = "free"
	IdentitySubscriber IdentityKind = "subscriber"
	IdentityUnlimited  IdentityKind = "unlimited"
)

// Identity is resolved once per request and never mutated.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	// Key is "anon:<fingerprint>" for anonymous callers and the stable
	// account id otherwise.
	Key string `json:"key"`
	// Origin is the caller's network address. Only anonymous callers carry it.
	Origin string `json:"origin,omitempty"`
	Email  string `json:"email,omitempty"`
}

// AnonymousKey builds the ledger key for a client fingerprint.
func AnonymousKey(fingerprint string) string {
	return "anon:" + fingerprint
}

// QuotaScope selects how usage events are counted.
type QuotaScope string

const (
	QuotaScopeNone      QuotaScope = "none"
	QuotaScopeLifetime  QuotaScope = "lifetime"
	QuotaScopeMonthly   QuotaScope = "monthly"
	QuotaScopeUnbounded QuotaScope = "unbounded"
)

// QuotaPolicy is statically mapped from an identity kind. Limit is ignored
// for the unbounded scope.
type QuotaPolicy struct {
	Scope QuotaScope `json:"scope"`
	Limit int        `json:"limit"`
}

// DefaultPolicies holds the built-in policy per identity kind.
var DefaultPolicies = map[IdentityKind]QuotaPolicy{
	IdentityAnonymous:  {Scope: QuotaScopeLifetime, Limit: 1},
	IdentityFree:       {Scope: QuotaScopeLifetime, Limit: 3},
	IdentitySubscriber: {Scope: QuotaScopeMonthly, Limit: 25},
	IdentityUnlimited:  {Scope: QuotaScopeUnbounded},
}

// PolicyFor returns the default policy for kind. Unknown kinds get the
// none scope, which never authorizes.
func PolicyFor(kind IdentityKind) QuotaPolicy {
	if p, ok := DefaultPolicies[kind]; ok {
		return p
	}
	return QuotaPolicy{Scope: QuotaScopeNone}
}
