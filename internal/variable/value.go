// Package variable implements the typed variable system of spec.md §3/§4.2:
// variable metadata, tagged values, the per-scope variable map, and
// override composition.
package variable

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/b2build/b2/name"
	"github.com/b2build/b2/path"
)

// Name is re-exported for brevity at call sites that already import
// variable but not name.
type Name = name.Name

// Kind tags the payload carried by a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	UInt64
	String
	Path
	DirPath
	NameKind
	NameList
	StringList
	PathList
	Triplet
	ProcessPath
	JSON
)

func (k Kind) String() string {
	names := [...]string{"null", "bool", "uint64", "string", "path", "dir_path",
		"name", "names", "strings", "paths", "triplet", "process_path", "json"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// TargetTriplet is a (type, out_dir, src_dir-or-empty, value, ext) style
// target reference value, the payload of a Triplet-kind Value, used when a
// variable holds a resolved target rather than a plain name.
type TargetTriplet struct {
	Type  string
	Out   path.Dir
	Src   path.Dir
	Value string
	Ext   string
}

// Value is the null-plus-typed-payload union of spec.md §3. Version
// increases every time an append/prepend override is folded in, so that
// identical overrides applied twice produce bit-identical results (the
// idempotence invariant of spec.md §8) without recomputation.
type Value struct {
	Kind Kind

	B    bool
	U    uint64
	S    string
	P    path.File
	D    path.Dir
	Nm   name.Name
	Nms  []name.Name
	Strs []string
	Ps   []path.File
	Tr   TargetTriplet
	JS   interface{} // decoded JSON tree: nil, bool, float64, string, []interface{}, map[string]interface{}

	Version int
}

// Nil is the null value.
var Nil = Value{Kind: Null}

func (v Value) IsNull() bool { return v.Kind == Null }

// String renders v for diagnostics and for $(...) expansion in the
// buildfile language.
func (v Value) String() string {
	switch v.Kind {
	case Null:
		return ""
	case Bool:
		if v.B {
			return "true"
		}
		return "false"
	case UInt64:
		return fmt.Sprintf("%d", v.U)
	case String:
		return v.S
	case Path:
		return v.P.String()
	case DirPath:
		return v.D.String()
	case NameKind:
		return v.Nm.String()
	case NameList:
		parts := make([]string, len(v.Nms))
		for i, n := range v.Nms {
			parts[i] = n.String()
		}
		return joinSpace(parts)
	case StringList:
		return joinSpace(v.Strs)
	case PathList:
		parts := make([]string, len(v.Ps))
		for i, p := range v.Ps {
			parts[i] = p.String()
		}
		return joinSpace(parts)
	case Triplet:
		return fmt.Sprintf("%s{%s%s/%s.%s}", v.Tr.Type, v.Tr.Out, v.Tr.Src, v.Tr.Value, v.Tr.Ext)
	case ProcessPath:
		return v.S
	case JSON:
		b, err := json.Marshal(v.JS)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// Equal reports whether v and o hold the same kind and payload, used by the
// JSON and list round-trip laws of spec.md §8.
func Equal(v, o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case JSON:
		return jsonEqual(v.JS, o.JS)
	default:
		return v.String() == o.String()
	}
}

func jsonEqual(a, b interface{}) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	var na, nb interface{}
	if json.Unmarshal(ab, &na) != nil || json.Unmarshal(bb, &nb) != nil {
		return false
	}
	return deepEqualJSON(na, nb)
}

func deepEqualJSON(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		keys := make([]string, 0, len(av))
		for k := range av {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			bval, ok := bv[k]
			if !ok || !deepEqualJSON(av[k], bval) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

// Append composes v += o into a new Value (list-kind values concatenate,
// string-kind values concatenate with a separating space, as spec.md §8
// scenario 1 requires: "x = 1" then "x += 2" yields "1 2").
func Append(v, o Value) Value {
	r := v
	switch v.Kind {
	case Null:
		r = o
	case String:
		r.S = v.S + " " + o.String()
	case StringList:
		r.Strs = append(append([]string{}, v.Strs...), o.Strs...)
	case NameList:
		r.Nms = append(append([]name.Name{}, v.Nms...), o.Nms...)
	case PathList:
		r.Ps = append(append([]path.File{}, v.Ps...), o.Ps...)
	default:
		r.S = v.String() + " " + o.String()
	}
	r.Version = v.Version + 1
	return r
}

// Prepend composes v =+ o (o prepended to v).
func Prepend(v, o Value) Value {
	return Append(o, v)
}
