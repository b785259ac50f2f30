package offlinecache

import "strings"

// Class is the derived classification of a request. It is never persisted.
type Class string

const (
	ClassStatic  Class = "static"
	ClassDynamic Class = "dynamic"
)

// NamespaceName builds the versioned name of the namespace holding a class,
// e.g. "invincit-static-v1.2.0", or "static-v2" with an empty prefix.
func NamespaceName(prefix string, class Class, version string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, string(class), version} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// Namespaces holds the current namespace name for each class.
type Namespaces struct {
	Static  string
	Dynamic string
}

func NewNamespaces(prefix, version string) Namespaces {
	return Namespaces{
		Static:  NamespaceName(prefix, ClassStatic, version),
		Dynamic: NamespaceName(prefix, ClassDynamic, version),
	}
}

// For returns the namespace for the class.
func (n Namespaces) For(class Class) string {
	if class == ClassStatic {
		return n.Static
	}
	return n.Dynamic
}

// Retained returns the names activation must keep.
func (n Namespaces) Retained() []string {
	return []string{n.Static, n.Dynamic}
}

// IsCurrent reports whether name is one of the current namespaces.
func (n Namespaces) IsCurrent(name string) bool {
	return name == n.Static || name == n.Dynamic
}
