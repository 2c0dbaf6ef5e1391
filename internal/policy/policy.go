// Package policy implements Cohesix's access policy table: role × path
// prefix × mode. Every Secure9P Topen (and every console verb that reads
// or writes a namespace node) is checked against this table before the
// namespace provider is invoked.
//
// Grounded on dittofs's pkg/identity (AuthProvider/AuthProviderChain):
// the same "ordered rule list, first match wins, default deny" shape is
// kept, replacing NFSv4-principal/share rules with ticket-role/path-
// prefix/mode rules — Cohesix has no user database, only the roles a
// ticket's Claims.Role can name.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
)

// Rule grants Role access to any path under Prefix at the given Modes.
type Rule struct {
	Role   string
	Prefix string
	Modes  []codec.OpenMode
}

// Table is an ordered, longest-prefix-first access policy. Lookups are
// O(n) over a flat slice sized by the rule list handed to New — there
// is no dynamic rule insertion after boot.
type Table struct {
	rules []Rule
}

// New builds a Table from rules, sorted so the longest Prefix is tried
// first (more specific rules take precedence over broader ones).
func New(rules []Rule) *Table {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{rules: sorted}
}

// Check reports whether role may access path at mode. The first rule
// whose Prefix is a prefix of path and whose Role matches decides the
// outcome; Modes must include mode for the rule to grant access. No
// matching rule is a default deny (Permission).
func (t *Table) Check(role, path string, mode codec.OpenMode) error {
	for _, r := range t.rules {
		if r.Role != role {
			continue
		}
		if !pathUnder(r.Prefix, path) {
			continue
		}
		for _, m := range r.Modes {
			if m == mode {
				return nil
			}
		}
		return cerr.Newf(cerr.Permission, "role %q not permitted mode %v on %q", role, mode, path)
	}
	return cerr.Newf(cerr.Permission, "role %q has no rule covering %q", role, path)
}

// String renders the table's rules in match order, one per line, for
// display at /policy/rules — a read-only view of the exact grant table
// Check evaluates against, not a separate representation of it.
func (t *Table) String() string {
	var b strings.Builder
	for _, r := range t.rules {
		fmt.Fprintf(&b, "role=%s prefix=%s modes=%v", r.Role, r.Prefix, r.Modes)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// DefaultRules returns the stock role×prefix×mode grants a fresh boot
// with no manifest-supplied policy uses: the queen role administers
// everything, worker roles get read/write on all of /worker and /shard
// plus the shared read-only roots, and observer gets read-only
// access to the same shared roots and nothing under /queen or /worker.
// Rules match on role and path prefix only, so a worker is not limited
// to its own /worker/<id> subtree. spec.md's manifest table (§6) has no policy-rule key of its own, so
// unlike the other subsystems this table is not manifest-driven; a
// deployment that needs a different grant shape constructs its own
// []Rule and calls policy.New directly instead of DefaultRules.
func DefaultRules() []Rule {
	readOnly := []codec.OpenMode{codec.ModeReadOnly}
	readWrite := []codec.OpenMode{codec.ModeReadOnly, codec.ModeWriteOnlyAppend}
	sharedReadOnlyRoots := []string{"/proc", "/gpu", "/host", "/policy", "/audit", "/updates", "/models", "/bus", "/lora", "/actions", "/replay"}

	var rules []Rule
	for _, prefix := range sharedReadOnlyRoots {
		rules = append(rules,
			Rule{Role: "queen", Prefix: prefix, Modes: readWrite},
			Rule{Role: "worker-heartbeat", Prefix: prefix, Modes: readOnly},
			Rule{Role: "worker-gpu", Prefix: prefix, Modes: readOnly},
			Rule{Role: "worker-bus", Prefix: prefix, Modes: readOnly},
			Rule{Role: "worker-lora", Prefix: prefix, Modes: readOnly},
			Rule{Role: "observer", Prefix: prefix, Modes: readOnly},
		)
	}
	rules = append(rules,
		Rule{Role: "queen", Prefix: "/queen", Modes: readWrite},
		Rule{Role: "queen", Prefix: "/worker", Modes: readWrite},
		Rule{Role: "queen", Prefix: "/shard", Modes: readWrite},
		Rule{Role: "queen", Prefix: "/log", Modes: readOnly},
		Rule{Role: "worker-heartbeat", Prefix: "/worker", Modes: readWrite},
		Rule{Role: "worker-gpu", Prefix: "/worker", Modes: readWrite},
		Rule{Role: "worker-bus", Prefix: "/worker", Modes: readWrite},
		Rule{Role: "worker-lora", Prefix: "/worker", Modes: readWrite},
		Rule{Role: "worker-heartbeat", Prefix: "/shard", Modes: readWrite},
		Rule{Role: "worker-gpu", Prefix: "/shard", Modes: readWrite},
		Rule{Role: "worker-bus", Prefix: "/shard", Modes: readWrite},
		Rule{Role: "worker-lora", Prefix: "/shard", Modes: readWrite},
		Rule{Role: "observer", Prefix: "/log", Modes: readOnly},
	)
	return rules
}

// pathUnder reports whether path is prefix or a descendant of prefix,
// treating "/" as matching everything and avoiding a false match like
// prefix "/log" matching path "/logs".
func pathUnder(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
