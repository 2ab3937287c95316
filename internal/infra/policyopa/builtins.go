package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins restricts escalation policies to deterministic builtins.
// A policy that reaches for time, network, or random data would make the
// escalation decision unreplayable from the audit trail.
var allowedBuiltins = map[string]struct{}{
	"abs":             {},
	"ceil":            {},
	"div":             {},
	"gt":              {},
	"gte":             {},
	"lt":              {},
	"lte":             {},
	"minus":           {},
	"mul":             {},
	"plus":            {},
	"rem":             {},
	"concat":          {},
	"contains":        {},
	"count":           {},
	"eq":              {},
	"equal":           {},
	"endswith":        {},
	"floor":           {},
	"format_int":      {},
	"format_number":   {},
	"json.marshal":    {},
	"json.unmarshal":  {},
	"lower":           {},
	"max":             {},
	"min":             {},
	"neq":             {},
	"object.get":      {},
	"object.remove":   {},
	"object.union":    {},
	"pow":             {},
	"replace":         {},
	"round":           {},
	"sort":            {},
	"split":           {},
	"sprintf":         {},
	"startswith":      {},
	"substring":       {},
	"sum":             {},
	"trim":            {},
	"trim_left":       {},
	"trim_right":      {},
	"upper":           {},
	"urlquery.decode": {},
	"urlquery.encode": {},
}

func deterministicCapabilities() *ast.Capabilities {
	caps := ast.CapabilitiesForThisVersion()
	caps.Builtins = filterBuiltins(caps.Builtins)
	return caps
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
