package models

import "strings"

// PatchOp is one RFC 6902 operation. A patch is applied as a whole or not at all.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

func Test(path string, value any) PatchOp    { return PatchOp{Op: "test", Path: path, Value: value} }
func Add(path string, value any) PatchOp     { return PatchOp{Op: "add", Path: path, Value: value} }
func Replace(path string, value any) PatchOp { return PatchOp{Op: "replace", Path: path, Value: value} }
func Remove(path string) PatchOp             { return PatchOp{Op: "remove", Path: path} }

// Idempotent reports whether applying ops twice leaves the document as applying them once.
// Only such patches may be retried after an unknown outcome.
func Idempotent(ops []PatchOp) bool {
	if len(ops) == 0 {
		return false
	}
	for _, op := range ops {
		if op.Op != "add" && op.Op != "replace" {
			return false
		}
	}
	return true
}

// Conditional reports whether ops carry a test.
func Conditional(ops []PatchOp) bool {
	for _, op := range ops {
		if op.Op == "test" {
			return true
		}
	}
	return false
}

// EscapePointer escapes s for use as one JSON pointer segment.
func EscapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
