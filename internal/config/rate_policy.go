package config

import (
	"strings"
	"time"
)

// Paths the rate policies are keyed on.
const (
	PathPasskeyPrefix       = "/passkey/"
	PathPasskeyRegister     = "/passkey/register"
	PathPasskeyAuthenticate = "/passkey/authenticate"
)

// RatePolicy allows MaxAttempts per client within a fixed Window.
type RatePolicy struct {
	Window      time.Duration `env:"WINDOW"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
}

// RatePolicyTable is the static path -> policy mapping consulted by the
// rate-limit middleware. Global applies to every passkey path on top of
// the per-endpoint entries. Peer is a ceiling over every passkey path keyed
// on the connection's IP rather than the header-derived client identity;
// MaxAttempts 0 disables it (e.g. behind a proxy every request shares).
type RatePolicyTable struct {
	Register     RatePolicy `envPrefix:"REGISTER_"`
	Authenticate RatePolicy `envPrefix:"AUTHENTICATE_"`
	Global       RatePolicy `envPrefix:"GLOBAL_"`
	Peer         RatePolicy `envPrefix:"PEER_"`
}

// RateRule binds a policy to a path pattern. A pattern ending in "*"
// matches by prefix, anything else must match exactly. ByPeer rules count
// against the peer IP instead of the client identity.
type RateRule struct {
	Name    string
	Pattern string
	Policy  RatePolicy
	ByPeer  bool
}

func DefaultRatePolicyTable() RatePolicyTable {
	return RatePolicyTable{
		Register:     RatePolicy{Window: DefaultRegisterRateWindow, MaxAttempts: DefaultRegisterRateMax},
		Authenticate: RatePolicy{Window: DefaultAuthenticateRateWindow, MaxAttempts: DefaultAuthenticateRateMax},
		Global:       RatePolicy{Window: DefaultGlobalRateWindow, MaxAttempts: DefaultGlobalRateMax},
		Peer:         RatePolicy{Window: DefaultPeerRateWindow, MaxAttempts: DefaultPeerRateMax},
	}
}

// Rules lists the enabled rules in evaluation order: peer, global, then
// the per-endpoint ones.
func (t RatePolicyTable) Rules() []RateRule {
	var rules []RateRule
	if t.Peer.MaxAttempts != 0 {
		rules = append(rules, RateRule{Name: "peer", Pattern: PathPasskeyPrefix + "*", Policy: t.Peer, ByPeer: true})
	}
	return append(rules,
		RateRule{Name: "global", Pattern: PathPasskeyPrefix + "*", Policy: t.Global},
		RateRule{Name: "register", Pattern: PathPasskeyRegister, Policy: t.Register},
		RateRule{Name: "authenticate", Pattern: PathPasskeyAuthenticate, Policy: t.Authenticate},
	)
}

// RulesFor returns the rules that apply to path, in evaluation order.
func (t RatePolicyTable) RulesFor(path string) []RateRule {
	path = strings.TrimSuffix(path, "/")
	var out []RateRule
	for _, rule := range t.Rules() {
		if matchPattern(rule.Pattern, path) {
			out = append(out, rule)
		}
	}
	return out
}

func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return path == pattern
}
