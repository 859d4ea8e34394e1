package aop

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// ExpressionPointcut is a pointcut written in a small AspectJ-like language:
//
//	execution(RET TYPE.METHOD(PARAMS))  method signature
//	within(TYPE)                         any method of a matching type
//	this(TYPE)                           proxy is, or implements, TYPE
//	target(TYPE)                         target is, or implements, TYPE
//	args(PARAMS)                         dynamic argument types
//	name()                               reference to a named pointcut
//
// combined with &&, || and ! and grouped with parentheses.
//
// Type patterns match the qualified name ("github.com/acme/shop/orders.Service")
// or the short name ("orders.Service"). In patterns '*' matches within one
// name segment and ".." matches any run of characters, so "orders.*" matches
// every type of package orders and "*..orders..*" also its subpackages.
// "*" alone matches any type.
//
// RET is matched against the result list: "void" for none, the type for one,
// "(A, B)" for several. PARAMS is a comma-separated list where '*' matches
// one parameter and ".." any number of them.
//
// this() is introduction aware: when introductions apply to the target type
// it may match interfaces the target only gains through an introduction.
type ExpressionPointcut struct {
	expression string
	root       exprNode
	runtime    bool
}

// ParseExpression parses expr. refs supplies the expressions of named
// pointcuts referenced as name().
func ParseExpression(expr string, refs map[string]string) (*ExpressionPointcut, error) {
	p := &exprParser{src: expr, refs: refs, resolving: make(map[string]bool)}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &ExpressionPointcut{expression: expr, root: root, runtime: root.isRuntime()}, nil
}

// MustParseExpression is like ParseExpression but panics on error.
func MustParseExpression(expr string) *ExpressionPointcut {
	pc, err := ParseExpression(expr, nil)
	if err != nil {
		panic(err)
	}
	return pc
}

// Expression returns the source expression.
func (p *ExpressionPointcut) Expression() string { return p.expression }

func (p *ExpressionPointcut) String() string { return "ExpressionPointcut: " + p.expression }

func (p *ExpressionPointcut) ClassFilter() ClassFilter {
	return ClassFilterFunc(func(t reflect.Type) bool { return p.root.couldMatchType(t) != triNo })
}

func (p *ExpressionPointcut) MethodMatcher() MethodMatcher { return p }

func (p *ExpressionPointcut) Matches(m Method, t reflect.Type) bool {
	return p.MatchesWithIntroductions(m, t, false)
}

func (p *ExpressionPointcut) MatchesWithIntroductions(m Method, t reflect.Type, hasIntroductions bool) bool {
	return p.root.matches(m, t, hasIntroductions) != triNo
}

func (p *ExpressionPointcut) IsRuntime() bool { return p.runtime }

func (p *ExpressionPointcut) MatchesArgs(m Method, t reflect.Type, args []any) bool {
	return p.root.matchesArgs(m, t, args)
}

type tri int

const (
	triNo tri = iota
	triMaybe
	triYes
)

func triOf(b bool) tri {
	if b {
		return triYes
	}
	return triNo
}

func (v tri) not() tri {
	switch v {
	case triYes:
		return triNo
	case triNo:
		return triYes
	}
	return triMaybe
}

type exprNode interface {
	couldMatchType(t reflect.Type) tri
	matches(m Method, t reflect.Type, hasIntroductions bool) tri
	matchesArgs(m Method, t reflect.Type, args []any) bool
	isRuntime() bool
}

type andNode struct{ left, right exprNode }

func (n andNode) couldMatchType(t reflect.Type) tri {
	return and3(n.left.couldMatchType(t), n.right.couldMatchType(t))
}

func (n andNode) matches(m Method, t reflect.Type, hi bool) tri {
	return and3(n.left.matches(m, t, hi), n.right.matches(m, t, hi))
}

func (n andNode) matchesArgs(m Method, t reflect.Type, args []any) bool {
	return n.left.matchesArgs(m, t, args) && n.right.matchesArgs(m, t, args)
}

func (n andNode) isRuntime() bool { return n.left.isRuntime() || n.right.isRuntime() }

type orNode struct{ left, right exprNode }

func (n orNode) couldMatchType(t reflect.Type) tri {
	return or3(n.left.couldMatchType(t), n.right.couldMatchType(t))
}

func (n orNode) matches(m Method, t reflect.Type, hi bool) tri {
	return or3(n.left.matches(m, t, hi), n.right.matches(m, t, hi))
}

func (n orNode) matchesArgs(m Method, t reflect.Type, args []any) bool {
	return n.left.matchesArgs(m, t, args) || n.right.matchesArgs(m, t, args)
}

func (n orNode) isRuntime() bool { return n.left.isRuntime() || n.right.isRuntime() }

type notNode struct{ inner exprNode }

func (n notNode) couldMatchType(t reflect.Type) tri { return n.inner.couldMatchType(t).not() }

func (n notNode) matches(m Method, t reflect.Type, hi bool) tri { return n.inner.matches(m, t, hi).not() }

func (n notNode) matchesArgs(m Method, t reflect.Type, args []any) bool {
	return !n.inner.matchesArgs(m, t, args)
}

func (n notNode) isRuntime() bool { return n.inner.isRuntime() }

func and3(a, b tri) tri {
	if a == triNo || b == triNo {
		return triNo
	}
	if a == triYes && b == triYes {
		return triYes
	}
	return triMaybe
}

func or3(a, b tri) tri {
	if a == triYes || b == triYes {
		return triYes
	}
	if a == triNo && b == triNo {
		return triNo
	}
	return triMaybe
}

// executionNode matches method signatures.
type executionNode struct {
	ret    *typePattern // nil matches any result
	owner  *typePattern // nil matches any type
	name   *regexp.Regexp
	params paramsPattern
}

func (n executionNode) couldMatchType(t reflect.Type) tri {
	if n.owner == nil || n.owner.matchesTypeOrInterfaces(t) {
		return triMaybe
	}
	return triNo
}

func (n executionNode) matches(m Method, t reflect.Type, _ bool) tri {
	if !n.name.MatchString(m.Name) {
		return triNo
	}
	if n.owner != nil && !n.owner.matches(m.Owner) && !n.owner.matches(t) {
		return triNo
	}
	if m.Func != nil {
		if n.ret != nil && !n.ret.matchesString(resultString(m.Func)) {
			return triNo
		}
		if !n.params.matchesTypes(paramTypes(m.Func)) {
			return triNo
		}
	}
	return triYes
}

func (n executionNode) matchesArgs(m Method, t reflect.Type, _ []any) bool {
	return n.matches(m, t, false) != triNo
}

func (executionNode) isRuntime() bool { return false }

// withinNode matches every method of matching types.
type withinNode struct{ types *typePattern }

func (n withinNode) couldMatchType(t reflect.Type) tri { return triOf(n.types.matches(t)) }

func (n withinNode) matches(_ Method, t reflect.Type, _ bool) tri { return triOf(n.types.matches(t)) }

func (n withinNode) matchesArgs(_ Method, t reflect.Type, _ []any) bool { return n.types.matches(t) }

func (withinNode) isRuntime() bool { return false }

// instanceNode implements this() and target().
type instanceNode struct {
	types      *typePattern
	proxyBound bool // this(): introductions may add matching interfaces
}

func (n instanceNode) couldMatchType(t reflect.Type) tri {
	if n.types.matchesTypeOrInterfaces(t) {
		return triYes
	}
	if n.proxyBound {
		return triMaybe
	}
	return triNo
}

func (n instanceNode) matches(_ Method, t reflect.Type, hasIntroductions bool) tri {
	if n.types.matchesTypeOrInterfaces(t) {
		return triYes
	}
	if n.proxyBound && hasIntroductions {
		return triMaybe
	}
	return triNo
}

func (n instanceNode) matchesArgs(m Method, t reflect.Type, _ []any) bool {
	return n.matches(m, t, n.proxyBound) != triNo
}

func (instanceNode) isRuntime() bool { return false }

// argsNode matches the dynamic types of the call arguments.
type argsNode struct{ params paramsPattern }

func (argsNode) couldMatchType(reflect.Type) tri { return triMaybe }

func (n argsNode) matches(m Method, _ reflect.Type, _ bool) tri {
	if m.Func != nil && !n.params.matchesCount(m.Func.NumIn()) {
		return triNo
	}
	return triMaybe
}

func (n argsNode) matchesArgs(_ Method, _ reflect.Type, args []any) bool {
	types := make([]reflect.Type, len(args))
	for i, arg := range args {
		types[i] = reflect.TypeOf(arg)
	}
	return n.params.matchesTypes(types)
}

func (argsNode) isRuntime() bool { return true }

// typePattern matches type names.
type typePattern struct {
	any bool
	re  *regexp.Regexp
}

var patternCache sync.Map // map[string]*regexp.Regexp

func compileTypePattern(pattern string) (*typePattern, error) {
	pattern = strings.TrimSpace(pattern)
	switch pattern {
	case "":
		return nil, errors.New("empty type pattern")
	case "*":
		return &typePattern{any: true}, nil
	}
	re, err := globRegexp(pattern)
	if err != nil {
		return nil, err
	}
	return &typePattern{re: re}, nil
}

func (p *typePattern) matches(t reflect.Type) bool {
	if p.any {
		return true
	}
	if t == nil {
		return false
	}
	return p.re.MatchString(qualifiedName(t)) || p.re.MatchString(typeName(t)) || p.re.MatchString(t.String())
}

func (p *typePattern) matchesString(s string) bool {
	return p.any || p.re.MatchString(s)
}

func (p *typePattern) matchesTypeOrInterfaces(t reflect.Type) bool {
	if p.matches(t) {
		return true
	}
	for _, it := range InterfacesOf(t) {
		if p.matches(it) {
			return true
		}
	}
	return false
}

// globRegexp translates a name pattern: ".." matches anything, '*' matches
// within a segment delimited by '.' or '/'.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch {
		case strings.HasPrefix(pattern[i:], ".."):
			b.WriteString(".*")
			i++
		case pattern[i] == '*':
			b.WriteString(`[^./]*`)
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// paramsPattern matches parameter lists.
type paramsPattern struct {
	items []paramItem
}

type paramItem struct {
	anyOne  bool
	anyRest bool
	types   *typePattern
}

func compileParams(src string) (paramsPattern, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return paramsPattern{}, nil
	}

	var pp paramsPattern
	for _, part := range splitTopLevel(src, ',') {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			return paramsPattern{}, errors.New("empty parameter pattern")
		case "..":
			pp.items = append(pp.items, paramItem{anyRest: true})
		case "*":
			pp.items = append(pp.items, paramItem{anyOne: true})
		default:
			tp, err := compileTypePattern(part)
			if err != nil {
				return paramsPattern{}, err
			}
			pp.items = append(pp.items, paramItem{types: tp})
		}
	}
	return pp, nil
}

func (pp paramsPattern) matchesTypes(types []reflect.Type) bool {
	return matchParams(pp.items, types)
}

func (pp paramsPattern) matchesCount(n int) bool {
	fixed, rest := 0, false
	for _, item := range pp.items {
		if item.anyRest {
			rest = true
		} else {
			fixed++
		}
	}
	if rest {
		return n >= fixed
	}
	return n == fixed
}

func matchParams(items []paramItem, types []reflect.Type) bool {
	if len(items) == 0 {
		return len(types) == 0
	}

	item := items[0]
	if item.anyRest {
		for i := 0; i <= len(types); i++ {
			if matchParams(items[1:], types[i:]) {
				return true
			}
		}
		return false
	}
	if len(types) == 0 {
		return false
	}
	if !item.anyOne && (types[0] == nil || !item.types.matches(types[0])) {
		return false
	}
	return matchParams(items[1:], types[1:])
}

func paramTypes(fn reflect.Type) []reflect.Type {
	types := make([]reflect.Type, fn.NumIn())
	for i := range types {
		types[i] = fn.In(i)
	}
	return types
}

func resultString(fn reflect.Type) string {
	switch fn.NumOut() {
	case 0:
		return "void"
	case 1:
		return fn.Out(0).String()
	}
	parts := make([]string, fn.NumOut())
	for i := range parts {
		parts[i] = fn.Out(i).String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// splitTopLevel splits s at sep outside parentheses.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

type exprParser struct {
	src       string
	pos       int
	refs      map[string]string
	resolving map[string]bool
}

func (p *exprParser) errorf(reason string) error {
	return ExpressionError{Expression: p.src, Pos: p.pos, Reason: reason}
}

func (p *exprParser) parse() (exprNode, error) {
	if strings.TrimSpace(p.src) == "" {
		return nil, p.errorf("empty expression")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected input")
	}
	return n, nil
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.consume("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.consume("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.consume("!") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.consume("(") {
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, p.errorf("missing ')'")
		}
		return n, nil
	}

	p.skipSpace()
	ident := p.ident()
	if ident == "" {
		return nil, p.errorf("expected pointcut designator")
	}
	if !p.consume("(") {
		return nil, p.errorf("expected '(' after " + ident)
	}
	body, err := p.body()
	if err != nil {
		return nil, err
	}

	switch ident {
	case "execution":
		return p.execution(body)
	case "within":
		tp, err := compileTypePattern(body)
		if err != nil {
			return nil, p.errorf(err.Error())
		}
		return withinNode{types: tp}, nil
	case "this", "target":
		tp, err := compileTypePattern(body)
		if err != nil {
			return nil, p.errorf(err.Error())
		}
		return instanceNode{types: tp, proxyBound: ident == "this"}, nil
	case "args":
		pp, err := compileParams(body)
		if err != nil {
			return nil, p.errorf(err.Error())
		}
		return argsNode{params: pp}, nil
	}

	if strings.TrimSpace(body) != "" {
		return nil, p.errorf("unknown pointcut designator " + ident)
	}
	return p.reference(ident)
}

func (p *exprParser) reference(name string) (exprNode, error) {
	expr, ok := p.refs[name]
	if !ok {
		return nil, p.errorf("unknown pointcut reference " + name + "()")
	}
	if p.resolving[name] {
		return nil, p.errorf("circular pointcut reference " + name + "()")
	}

	p.resolving[name] = true
	defer delete(p.resolving, name)

	sub := &exprParser{src: expr, refs: p.refs, resolving: p.resolving}
	return sub.parse()
}

func (p *exprParser) execution(body string) (exprNode, error) {
	body = strings.TrimSpace(body)
	if !strings.HasSuffix(body, ")") {
		return nil, p.errorf("execution requires a parameter list")
	}

	open := -1
	depth := 0
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == ')' {
			depth++
		} else if body[i] == '(' {
			depth--
			if depth == 0 {
				open = i
				break
			}
		}
	}
	if open < 0 {
		return nil, p.errorf("unbalanced parameter list")
	}

	params, err := compileParams(body[open+1 : len(body)-1])
	if err != nil {
		return nil, p.errorf(err.Error())
	}

	head := strings.TrimSpace(body[:open])
	var retPart, decl string
	if strings.HasPrefix(head, "(") {
		end := strings.IndexByte(head, ')')
		if end < 0 {
			return nil, p.errorf("unbalanced result list")
		}
		retPart, decl = head[:end+1], head[end+1:]
	} else {
		var ok bool
		if retPart, decl, ok = strings.Cut(head, " "); !ok {
			return nil, p.errorf("execution requires a result pattern and a method pattern")
		}
	}
	decl = strings.TrimSpace(decl)
	if decl == "" {
		return nil, p.errorf("execution requires a result pattern and a method pattern")
	}

	n := executionNode{params: params}
	if retPart != "*" {
		if n.ret, err = compileTypePattern(retPart); err != nil {
			return nil, p.errorf(err.Error())
		}
	}

	namePart := decl
	if i := strings.LastIndex(decl, "."); i >= 0 {
		namePart = decl[i+1:]
		if n.owner, err = compileTypePattern(decl[:i]); err != nil {
			return nil, p.errorf(err.Error())
		}
		if n.owner.any {
			n.owner = nil
		}
	}
	if namePart == "" {
		return nil, p.errorf("missing method name pattern")
	}
	if n.name, err = globRegexp(namePart); err != nil {
		return nil, p.errorf(err.Error())
	}

	return n, nil
}

// body returns the text up to the parenthesis closing the current one.
func (p *exprParser) body() (string, error) {
	start := p.pos
	depth := 1
	for ; p.pos < len(p.src); p.pos++ {
		switch p.src[p.pos] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				body := p.src[start:p.pos]
				p.pos++
				return body, nil
			}
		}
	}
	return "", p.errorf("missing ')'")
}

func (p *exprParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *exprParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}
