package resolver

import (
	"context"

	"github.com/toolgate/toolgate/engine/mcp"
)

// Rejection records one definition dropped during resolution, with the
// reason it was dropped.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// MergedConfiguration is the output of one resolution: the final mapping of
// server name to validated definition, plus the entries that were rejected.
// It is built fresh per request and never cached.
type MergedConfiguration struct {
	Servers  map[string]*mcp.ServerDefinition `json:"servers"`
	Rejected []Rejection                      `json:"rejected,omitempty"`
}

// Sanitized returns a copy safe for logs and API responses.
func (m *MergedConfiguration) Sanitized() *MergedConfiguration {
	return &MergedConfiguration{
		Servers:  SanitizeAll(m.Servers),
		Rejected: append([]Rejection(nil), m.Rejected...),
	}
}

// RequestTier is the per-request override layer after per-entry decoding.
// Supplied distinguishes a request that carried the mcp_servers field (even
// empty) from one that omitted it: an explicitly empty map opts out of all
// server-side tools, while an absent field uses the static+tenant result.
type RequestTier struct {
	Supplied bool
	Servers  map[string]*mcp.ServerDefinition
	// Rejected holds entries that failed per-entry decoding. Their names
	// are removed from the merge output: a broken override must not fall
	// back to a lower tier's value for the same name.
	Rejected []Rejection
}

// optOut reports whether the request asked for no server-side tools at all.
func (r *RequestTier) optOut() bool {
	return r != nil && r.Supplied && len(r.Servers) == 0 && len(r.Rejected) == 0
}

// MergeEngine combines the three configuration tiers and applies security
// validation to the combined result.
type MergeEngine struct {
	validator *SecurityValidator
}

func NewMergeEngine(validator *SecurityValidator) *MergeEngine {
	return &MergeEngine{validator: validator}
}

// Merge applies the fixed precedence static < tenant < request with
// complete-replacement semantics: a higher-tier entry fully replaces a
// same-named lower-tier entry, never field-merges with it. A disabled entry
// removes the name from the output, shadowing lower tiers. Security
// validation runs over the post-merge result so a higher tier cannot
// launder a dangerous value past checks that ran on a different tier.
func (e *MergeEngine) Merge(
	ctx context.Context,
	static map[string]*mcp.ServerDefinition,
	tenant map[string]*mcp.ServerDefinition,
	request *RequestTier,
) *MergedConfiguration {
	result := &MergedConfiguration{Servers: make(map[string]*mcp.ServerDefinition)}

	if request.optOut() {
		return result
	}

	for name, def := range static {
		if def.IsEnabled() {
			result.Servers[name] = def.WithOrigin(mcp.OriginStatic)
		}
	}
	for name, def := range tenant {
		if def.IsEnabled() {
			result.Servers[name] = def.WithOrigin(mcp.OriginTenant)
		} else {
			delete(result.Servers, name)
		}
	}
	if request != nil && request.Supplied {
		for name, def := range request.Servers {
			if def.IsEnabled() {
				result.Servers[name] = def.WithOrigin(mcp.OriginRequest)
			} else {
				delete(result.Servers, name)
			}
		}
		for _, rejection := range request.Rejected {
			delete(result.Servers, rejection.Name)
			result.Rejected = append(result.Rejected, rejection)
		}
	}

	for name, def := range result.Servers {
		clean, verr := e.validator.Validate(ctx, def)
		if verr != nil {
			delete(result.Servers, name)
			result.Rejected = append(result.Rejected, Rejection{Name: name, Reason: verr.Reason})
			continue
		}
		result.Servers[name] = clean
	}

	return result
}
