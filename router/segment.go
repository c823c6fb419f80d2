package router

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segTyped
	segWildcard
)

// segment is one compiled element of a route pattern. A pattern like
// /users/{id:int}/files/{*rest} compiles to
// [literal "users", typed id:int, literal "files", wildcard rest].
type segment struct {
	kind     segmentKind
	literal  string
	name     string // parameter name for typed/wildcard segments
	typeName string // "" means the implicit string type
	optional bool   // only valid on the trailing typed segment
}

// compilePattern parses a registration path into segments.
func compilePattern(path string) ([]segment, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", path, err)
		}
		if seg.kind == segWildcard && i != len(parts)-1 {
			return nil, fmt.Errorf("route %q: wildcard segment must be final", path)
		}
		if seg.optional && i != len(parts)-1 {
			return nil, fmt.Errorf("route %q: optional segment must be final", path)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func parseSegment(part string) (segment, error) {
	if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
		if strings.ContainsAny(part, "{}") {
			return segment{}, fmt.Errorf("malformed segment %q", part)
		}
		return segment{kind: segLiteral, literal: part}, nil
	}

	inner := part[1 : len(part)-1]
	if inner == "" {
		return segment{}, fmt.Errorf("empty parameter in segment %q", part)
	}

	if strings.HasPrefix(inner, "*") {
		name := inner[1:]
		if name == "" {
			return segment{}, fmt.Errorf("wildcard segment %q needs a name", part)
		}
		return segment{kind: segWildcard, name: name}, nil
	}

	optional := false
	if strings.HasSuffix(inner, "?") {
		optional = true
		inner = inner[:len(inner)-1]
	}

	name := inner
	typeName := ""
	if idx := strings.IndexByte(inner, ':'); idx >= 0 {
		name = inner[:idx]
		typeName = inner[idx+1:]
		if typeName == "" {
			return segment{}, fmt.Errorf("segment %q has empty type", part)
		}
	}
	if name == "" {
		return segment{}, fmt.Errorf("segment %q has empty parameter name", part)
	}

	return segment{kind: segTyped, name: name, typeName: typeName, optional: optional}, nil
}

// typeOrString resolves the segment's type from the registry, defaulting to
// the built-in string type.
func (s segment) typeOrString(reg *TypeRegistry) (*ParamType, error) {
	name := s.typeName
	if name == "" {
		name = "string"
	}
	t := reg.Get(name)
	if t == nil {
		return nil, fmt.Errorf("unknown parameter type %q", name)
	}
	return t, nil
}
