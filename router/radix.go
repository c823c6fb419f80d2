package router

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// The route tree keeps three child classes per node, tried in priority
// order: literal children, typed children in registration order, then the
// wildcard child. Typed matches that fail their pattern or cast fall through
// to the next candidate, so resolution backtracks.
type node struct {
	literal map[string]*node
	typed   []*typedEdge
	wild    *wildEdge
	leaves  []*leaf
}

type typedEdge struct {
	name     string
	typeName string
	node     *node
}

type wildEdge struct {
	name string
	node *node
}

// leaf terminates a route expansion at a node. A route with a trailing
// optional segment produces two leaves: one at the full node and one at the
// parent carrying the absent parameter name.
type leaf struct {
	route  *Route
	absent string // optional param absent on this expansion, or ""
}

func newNode() *node {
	return &node{}
}

func (n *node) literalChild(label string, create bool) *node {
	if n.literal != nil {
		if child, ok := n.literal[label]; ok {
			return child
		}
	}
	if !create {
		return nil
	}
	if n.literal == nil {
		n.literal = make(map[string]*node, 4)
	}
	child := newNode()
	n.literal[label] = child
	return child
}

func (n *node) typedChild(seg segment, create bool) *node {
	for _, e := range n.typed {
		if e.name == seg.name && e.typeName == seg.typeName {
			return e.node
		}
	}
	if !create {
		return nil
	}
	child := newNode()
	n.typed = append(n.typed, &typedEdge{name: seg.name, typeName: seg.typeName, node: child})
	return child
}

// insert walks the pattern into the tree and attaches leaves, expanding a
// trailing optional segment into present and absent forms.
func (n *node) insert(route *Route) {
	current := n
	segs := route.segments
	for i, seg := range segs {
		switch seg.kind {
		case segLiteral:
			current = current.literalChild(seg.literal, true)
		case segWildcard:
			if current.wild == nil {
				current.wild = &wildEdge{name: seg.name, node: newNode()}
			} else if current.wild.name != seg.name {
				panic(fmt.Sprintf("router: conflicting wildcard names %q and %q at %q",
					current.wild.name, seg.name, route.Path))
			}
			current.wild.node.attach(route, "")
			return
		case segTyped:
			if seg.optional {
				// Absent form terminates before descending.
				current.attach(route, seg.name)
			}
			current = current.typedChild(seg, true)
		}
		if i == len(segs)-1 {
			current.attach(route, "")
		}
	}
	if len(segs) == 0 {
		current.attach(route, "")
	}
}

func (n *node) attach(route *Route, absent string) {
	for _, existing := range n.leaves {
		if existing.route.Path == route.Path &&
			existing.route.domainPattern == route.domainPattern &&
			methodsOverlap(existing.route.Methods, route.Methods) {
			panic(fmt.Sprintf("router: duplicate route %v %q", route.Methods, route.Path))
		}
	}
	n.leaves = append(n.leaves, &leaf{route: route, absent: absent})
}

func methodsOverlap(a, b []string) bool {
	for _, m := range a {
		for _, o := range b {
			if m == o {
				return true
			}
		}
	}
	return false
}

// Param is one resolved path parameter. Absent optional parameters carry a
// nil Value with Absent set.
type Param struct {
	Name   string
	Raw    string
	Value  any
	Absent bool
}

// Params is the ordered list of resolved parameters for a match.
type Params []Param

// Get returns the parameter by name.
func (ps Params) Get(name string) (Param, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Value returns the cast value for name, or nil.
func (ps Params) Value(name string) any {
	if p, ok := ps.Get(name); ok {
		return p.Value
	}
	return nil
}

type matchState struct {
	method string
	host   string
	reg    *TypeRegistry
	params Params
	allow  map[string]struct{}
}

type matchResult struct {
	route  *Route
	params Params
}

// match resolves segs against the subtree rooted at n, backtracking across
// typed candidates. It returns the first accepted leaf in priority order.
func (n *node) match(segs []string, st *matchState) *matchResult {
	if len(segs) == 0 {
		if res := n.accept(st); res != nil {
			return res
		}
		// A wildcard child may match the empty remainder.
		if n.wild != nil {
			st.params = append(st.params, Param{Name: n.wild.name, Raw: "", Value: ""})
			if res := n.wild.node.accept(st); res != nil {
				return res
			}
			st.params = st.params[:len(st.params)-1]
		}
		return nil
	}

	head, rest := segs[0], segs[1:]

	if child := n.literalChild(head, false); child != nil {
		if res := child.match(rest, st); res != nil {
			return res
		}
	}

	for _, e := range n.typed {
		t := st.reg.Get(typeNameOrString(e.typeName))
		if t == nil || !t.Match(head) {
			continue
		}
		value, err := t.Cast(head)
		if err != nil {
			continue
		}
		st.params = append(st.params, Param{Name: e.name, Raw: head, Value: value})
		if res := e.node.match(rest, st); res != nil {
			return res
		}
		st.params = st.params[:len(st.params)-1]
	}

	if n.wild != nil {
		remainder := strings.Join(segs, "/")
		st.params = append(st.params, Param{Name: n.wild.name, Raw: remainder, Value: remainder})
		if res := n.wild.node.accept(st); res != nil {
			return res
		}
		st.params = st.params[:len(st.params)-1]
	}

	return nil
}

// accept checks the leaves at a terminal node against method, host and
// parameter constraints. Method mismatches feed the Allow set.
func (n *node) accept(st *matchState) *matchResult {
	for _, lf := range n.leaves {
		route := lf.route
		if !route.matchesHost(st.host) {
			continue
		}
		if !st.constraintsOK(route, lf) {
			continue
		}
		if !methodAllowed(route.Methods, st.method) {
			for _, m := range route.Methods {
				st.allow[m] = struct{}{}
			}
			continue
		}

		params := append(Params(nil), st.params...)
		if lf.absent != "" {
			params = append(params, Param{Name: lf.absent, Absent: true})
		}
		return &matchResult{route: route, params: params}
	}
	return nil
}

func (st *matchState) constraintsOK(route *Route, lf *leaf) bool {
	for name, re := range route.wheres {
		if name == lf.absent {
			continue
		}
		p, ok := st.params.Get(name)
		if !ok {
			continue
		}
		if !re.MatchString(p.Raw) {
			return false
		}
	}
	return true
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func typeNameOrString(name string) string {
	if name == "" {
		return "string"
	}
	return name
}

// staticKey hashes a full static path for the fast-path table consulted
// before tree traversal.
func staticKey(method, path string) uint64 {
	h := xxhash.New()
	h.WriteString(method)
	h.WriteString(" ")
	h.WriteString(path)
	return h.Sum64()
}
