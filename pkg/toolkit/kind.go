// Package toolkit executes the workspace tools exposed to the model: read,
// write, edit and bash. Every call returns a Result; tool failures never
// escape as Go errors or panics.
package toolkit

// Kind identifies one of the built-in tools.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindEdit  Kind = "edit"
	KindBash  Kind = "bash"
)

// Kinds lists every tool in declaration order.
var Kinds = []Kind{KindRead, KindWrite, KindEdit, KindBash}

// ParseKind maps a tool name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}
