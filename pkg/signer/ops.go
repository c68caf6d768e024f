package signer

import "strings"

// Operation is one node in a packet's operation tree. Branches are the only
// places nesting occurs; the set of branch fields is closed, so permission
// derivation is a plain recursive walk rather than duck-typed probing.
type Operation struct {
	Op      string         `json:"op"` // "<namespace>.<method>", e.g. "http.get"
	Args    map[string]any `json:"args,omitempty"`
	Then    []Operation    `json:"then,omitempty"`
	Else    []Operation    `json:"else,omitempty"`
	Ops     []Operation    `json:"ops,omitempty"`
	Catch   []Operation    `json:"catch,omitempty"`
	Finally []Operation    `json:"finally,omitempty"`
}

// namespacePermissions maps operation namespaces to the key permission that
// authorizes them. Namespaces absent from the map (transform, wait, notify)
// are pure local compute and need no grant.
var namespacePermissions = map[string]string{
	"http":  "http",
	"local": "storage",
	"llm":   "llm",
}

// RequiredPermissions walks the operation tree, including every nested
// branch, and returns the sorted-unique set of permissions the tree needs.
func RequiredPermissions(ops []Operation) []string {
	seen := make(map[string]bool)
	for i := range ops {
		visit(&ops[i], seen)
	}

	// Stable output order for signatures and error messages.
	out := make([]string, 0, len(seen))
	for _, p := range []string{"execute", "http", "llm", "read", "storage"} {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out
}

func visit(op *Operation, seen map[string]bool) {
	ns, _, found := strings.Cut(op.Op, ".")
	if found {
		if perm, ok := namespacePermissions[ns]; ok {
			seen[perm] = true
		}
	}
	for _, branch := range [][]Operation{op.Then, op.Else, op.Ops, op.Catch, op.Finally} {
		for i := range branch {
			visit(&branch[i], seen)
		}
	}
}
