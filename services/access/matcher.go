package access

import (
	"fmt"
	"strings"
)

// Match is a rule selected for a request, with the path parameters it bound.
type Match struct {
	Rule   *Rule
	Params map[string]string
}

// Param returns a bound path parameter
func (m *Match) Param(name string) string {
	return m.Params[name]
}

// Policy is a compiled rule table. It is immutable and safe for concurrent use.
type Policy struct {
	root  *node
	rules []Rule
}

type node struct {
	literal   map[string]*node
	param     *node
	paramName string
	wildcard  map[string]*Rule
	leaf      map[string]*Rule
}

func newNode() *node {
	return &node{literal: make(map[string]*node)}
}

// Compile builds the matcher for rules. It rejects duplicate routes,
// conflicting parameter names and tenant parameters the pattern lacks.
func Compile(rules []Rule) (*Policy, error) {
	p := &Policy{root: newNode(), rules: make([]Rule, len(rules))}
	copy(p.rules, rules)

	for i := range p.rules {
		rule := &p.rules[i]
		if err := rule.validate(); err != nil {
			return nil, err
		}
		if err := p.insert(rule); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MustCompile is Compile for static tables
func MustCompile(rules []Rule) *Policy {
	p, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the compiled table
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

func (p *Policy) insert(rule *Rule) error {
	segments := splitPath(rule.Pattern)
	params := map[string]bool{}
	n := p.root

	for i, seg := range segments {
		switch {
		case seg == "*":
			if i != len(segments)-1 {
				return fmt.Errorf("rule %s %s: * must be the last segment", rule.Method, rule.Pattern)
			}
			if n.wildcard == nil {
				n.wildcard = make(map[string]*Rule)
			}
			return addRule(n.wildcard, rule, params)

		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if name == "" || params[name] {
				return fmt.Errorf("rule %s %s: bad parameter %q", rule.Method, rule.Pattern, seg)
			}
			params[name] = true
			if n.param == nil {
				n.param = newNode()
				n.paramName = name
			} else if n.paramName != name {
				return fmt.Errorf("rule %s %s: parameter {%s} conflicts with {%s}", rule.Method, rule.Pattern, name, n.paramName)
			}
			n = n.param

		default:
			child, ok := n.literal[seg]
			if !ok {
				child = newNode()
				n.literal[seg] = child
			}
			n = child
		}
	}

	if n.leaf == nil {
		n.leaf = make(map[string]*Rule)
	}
	return addRule(n.leaf, rule, params)
}

func addRule(byMethod map[string]*Rule, rule *Rule, params map[string]bool) error {
	if rule.TenantParam != "" && !params[rule.TenantParam] {
		return fmt.Errorf("rule %s %s: tenant parameter {%s} not in pattern", rule.Method, rule.Pattern, rule.TenantParam)
	}
	if _, dup := byMethod[rule.Method]; dup {
		return fmt.Errorf("rule %s %s: duplicate route", rule.Method, rule.Pattern)
	}
	byMethod[rule.Method] = rule
	return nil
}

// Match finds the rule for method and path. Literal segments take
// precedence over parameters, and parameters over a trailing wildcard.
func (p *Policy) Match(method, path string) (*Match, bool) {
	params := map[string]string{}
	rule := p.root.lookup(method, splitPath(path), params)
	if rule == nil {
		return nil, false
	}
	return &Match{Rule: rule, Params: params}, true
}

func (n *node) lookup(method string, segments []string, params map[string]string) *Rule {
	if len(segments) == 0 {
		if r := pick(n.leaf, method); r != nil {
			return r
		}
		return pick(n.wildcard, method)
	}

	seg := segments[0]
	if child, ok := n.literal[seg]; ok {
		if r := child.lookup(method, segments[1:], params); r != nil {
			return r
		}
	}
	if n.param != nil && seg != "" {
		params[n.paramName] = seg
		if r := n.param.lookup(method, segments[1:], params); r != nil {
			return r
		}
		delete(params, n.paramName)
	}
	return pick(n.wildcard, method)
}

func pick(byMethod map[string]*Rule, method string) *Rule {
	if byMethod == nil {
		return nil
	}
	if r, ok := byMethod[method]; ok {
		return r
	}
	return byMethod[AnyMethod]
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
