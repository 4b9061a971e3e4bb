package air

import (
	"strconv"
	"strings"

	"github.com/roach88/airvm/internal/ir"
)

// DefaultMaxDepth caps instruction nesting when no limit is given.
const DefaultMaxDepth = 10000

// Option configures Parse.
type Option func(*parser)

// WithMaxDepth caps instruction nesting. Deeper scripts fail to parse.
func WithMaxDepth(n int) Option {
	return func(p *parser) {
		if n > 0 {
			p.maxDepth = n
		}
	}
}

// Parse reads an AIR script and runs the static checks on it.
// Every error it returns is a *ParseError.
func Parse(src string, opts ...Option) (Instruction, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, toks: toks, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}

	instr, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != tokEOF {
		return nil, p.errorf(tok.Pos, "unexpected %s after the top-level instruction", tok.Kind)
	}
	if err := validate(src, instr); err != nil {
		return nil, err
	}
	return instr, nil
}

type parser struct {
	src      string
	toks     []token
	pos      int
	depth    int
	maxDepth int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.Kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(pos int, format string, args ...any) *ParseError {
	return newParseError(p.src, pos, format, args...)
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.Kind != kind {
		return tok, p.errorf(tok.Pos, "expected %s, found %s", kind, describe(tok))
	}
	return tok, nil
}

func describe(tok token) string {
	switch tok.Kind {
	case tokWord:
		return strconv.Quote(tok.Text)
	case tokString:
		return "string " + strconv.Quote(tok.Text)
	}
	return tok.Kind.String()
}

func (p *parser) parseInstruction() (Instruction, error) {
	open, err := p.expect(tokLParen)
	if err != nil {
		return nil, err
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > p.maxDepth {
		return nil, p.errorf(open.Pos, "instruction nesting exceeds %d levels", p.maxDepth)
	}

	head, err := p.expect(tokWord)
	if err != nil {
		return nil, err
	}
	pos := open.Pos

	var instr Instruction
	switch head.Text {
	case "seq", "par", "xor":
		instr, err = p.parseBinary(head.Text, pos)
	case "match", "mismatch":
		instr, err = p.parseMatch(head.Text, pos)
	case "fold":
		instr, err = p.parseFold(pos)
	case "next":
		var tok token
		if tok, err = p.expect(tokWord); err == nil {
			if !isIdentifier(tok.Text) {
				err = p.errorf(tok.Pos, "next expects an iterator name, found %s", describe(tok))
			}
			instr = &Next{Position: pos, Iterator: tok.Text}
		}
	case "new":
		instr, err = p.parseNew(pos)
	case "ap":
		instr, err = p.parseAp(pos)
	case "call":
		instr, err = p.parseCall(pos)
	case "canon":
		instr, err = p.parseCanon(pos)
	case "fail":
		instr, err = p.parseFail(pos)
	case "never":
		instr = &Never{Position: pos}
	case "null":
		instr = &Null{Position: pos}
	default:
		return nil, p.errorf(head.Pos, "unknown instruction %q", head.Text)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return instr, nil
}

func (p *parser) parseBinary(kind string, pos int) (Instruction, error) {
	left, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	right, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	switch kind {
	case "seq":
		return &Seq{Position: pos, Left: left, Right: right}, nil
	case "par":
		return &Par{Position: pos, Left: left, Right: right}, nil
	}
	return &Xor{Position: pos, Left: left, Right: right}, nil
}

func (p *parser) parseMatch(kind string, pos int) (Instruction, error) {
	left, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	right, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	if kind == "match" {
		return &Match{Position: pos, Left: left, Right: right, Body: body}, nil
	}
	return &Mismatch{Position: pos, Left: left, Right: right, Body: body}, nil
}

func (p *parser) parseFold(pos int) (Instruction, error) {
	start := p.peek().Pos
	iterable, err := p.parseValue(true)
	if err != nil {
		return nil, err
	}
	switch it := iterable.(type) {
	case VarRef:
	case Literal:
		if arr, ok := it.V.(ir.Array); !ok || len(arr) != 0 {
			return nil, p.errorf(start, "fold over a literal is only allowed for []")
		}
	default:
		return nil, p.errorf(start, "%s cannot be folded", iterable)
	}

	iter, err := p.expect(tokWord)
	if err != nil {
		return nil, err
	}
	if !isIdentifier(iter.Text) {
		return nil, p.errorf(iter.Pos, "fold iterator must be a plain name, found %s", describe(iter))
	}

	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	fold := &Fold{Position: pos, Iterable: iterable, Iterator: iter.Text, Body: body}
	if p.peek().Kind == tokLParen {
		if fold.Last, err = p.parseInstruction(); err != nil {
			return nil, err
		}
	}
	return fold, nil
}

func (p *parser) parseNew(pos int) (Instruction, error) {
	v, err := p.parseVariable()
	if err != nil {
		return nil, err
	}
	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	return &New{Position: pos, Target: v, Body: body}, nil
}

func (p *parser) parseAp(pos int) (Instruction, error) {
	if p.peek().Kind == tokLParen {
		p.next()
		key, err := p.parseValue(false)
		if err != nil {
			return nil, err
		}
		arg, err := p.parseValue(false)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		mapTok := p.peek()
		m, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		if m.Kind != KindStreamMap {
			return nil, p.errorf(mapTok.Pos, "ap with a key needs a stream map destination, found %s", m)
		}
		return &ApMap{Position: pos, Key: key, Arg: arg, Map: m}, nil
	}

	arg, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	dstTok := p.peek()
	dst, err := p.parseVariable()
	if err != nil {
		return nil, err
	}
	switch dst.Kind {
	case KindScalar, KindStream:
	case KindStreamMap:
		return nil, p.errorf(dstTok.Pos, "ap into stream map %s needs a (key value) pair", dst)
	default:
		return nil, p.errorf(dstTok.Pos, "ap cannot write into %s", dst)
	}
	return &Ap{Position: pos, Arg: arg, Result: dst}, nil
}

func (p *parser) parseCall(pos int) (Instruction, error) {
	peer, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	service, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	function, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}
	var args []Value
	for p.peek().Kind != tokRBracket {
		if p.peek().Kind == tokEOF {
			return nil, p.errorf(p.peek().Pos, "unterminated argument list")
		}
		arg, err := p.parseValue(false)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.next()

	call := &Call{Position: pos, Peer: peer, Service: service, Function: function, Args: args}
	if p.peek().Kind == tokWord {
		outTok := p.peek()
		out, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		if out.Kind != KindScalar && out.Kind != KindStream {
			return nil, p.errorf(outTok.Pos, "call output must be a scalar or a stream, found %s", out)
		}
		call.Output = &out
	}
	return call, nil
}

func (p *parser) parseCanon(pos int) (Instruction, error) {
	peer, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	srcTok := p.peek()
	src, err := p.parseVariable()
	if err != nil {
		return nil, err
	}
	dstTok := p.peek()
	dst, err := p.parseVariable()
	if err != nil {
		return nil, err
	}
	switch {
	case src.Kind == KindStream && dst.Kind == KindCanon:
	case src.Kind == KindStreamMap && dst.Kind == KindCanonMap:
	case !src.IsStreamLike():
		return nil, p.errorf(srcTok.Pos, "canon source must be a stream or a stream map, found %s", src)
	default:
		return nil, p.errorf(dstTok.Pos, "canon of %s cannot be stored in %s", src, dst)
	}
	return &Canon{Position: pos, Peer: peer, Source: src, Target: dst}, nil
}

func (p *parser) parseFail(pos int) (Instruction, error) {
	tok := p.peek()
	if tok.Kind == tokWord && isNumber(tok.Text) {
		p.next()
		code, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "fail code must be an integer, found %q", tok.Text)
		}
		if code == 0 {
			return nil, p.errorf(tok.Pos, "fail code must not be 0")
		}
		msg, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		return &Fail{Position: pos, Kind: FailLiteral, Code: code, Message: msg.Text}, nil
	}

	v, err := p.parseValue(false)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case LastError:
		if val.Lambda.IsEmpty() {
			return &Fail{Position: pos, Kind: FailLastError}, nil
		}
	case ErrorValue:
		if val.Lambda.IsEmpty() {
			return &Fail{Position: pos, Kind: FailError}, nil
		}
	case VarRef:
		if val.Var.Kind == KindScalar {
			return &Fail{Position: pos, Kind: FailScalar, Scalar: &val}, nil
		}
	}
	return nil, p.errorf(tok.Pos, "fail expects a code and message, a scalar, %%last_error%% or :error:, found %s", v)
}

// parseValue reads an operand. Streams and stream maps are only accepted
// when allowStreams is set, which fold does for its iterable.
func (p *parser) parseValue(allowStreams bool) (Value, error) {
	tok := p.next()
	switch tok.Kind {
	case tokString:
		return Literal{V: ir.String(tok.Text)}, nil
	case tokLBracket:
		if _, err := p.expect(tokRBracket); err != nil {
			return nil, p.errorf(tok.Pos, "only the empty array literal [] is supported")
		}
		return Literal{V: ir.Array{}}, nil
	case tokWord:
	default:
		return nil, p.errorf(tok.Pos, "expected a value, found %s", describe(tok))
	}

	w := tok.Text
	switch {
	case isNumber(w):
		return parseNumberLiteral(p, tok)
	case w == "true" || w == "false":
		return Literal{V: ir.Bool(w == "true")}, nil
	case w == "nil":
		return Literal{V: ir.Null{}}, nil
	case w == "%init_peer_id%":
		return InitPeerID{}, nil
	case w == "%timestamp%":
		return Timestamp{}, nil
	case w == "%ttl%":
		return TTL{}, nil
	case strings.HasPrefix(w, "%last_error%"):
		l, err := p.parseLambda(tok, w[len("%last_error%"):])
		if err != nil {
			return nil, err
		}
		return LastError{Lambda: l}, nil
	case strings.HasPrefix(w, ":error:"):
		l, err := p.parseLambda(tok, w[len(":error:"):])
		if err != nil {
			return nil, err
		}
		return ErrorValue{Lambda: l}, nil
	}

	ref, err := p.parseVarRef(tok)
	if err != nil {
		return nil, err
	}
	if ref.Var.IsStreamLike() && !allowStreams {
		return nil, p.errorf(tok.Pos, "%s can only be read through fold or canon", ref.Var)
	}
	return ref, nil
}

func parseNumberLiteral(p *parser, tok token) (Value, error) {
	v, err := ir.Parse([]byte(tok.Text))
	if err != nil {
		return nil, p.errorf(tok.Pos, "invalid number %q", tok.Text)
	}
	switch v.(type) {
	case ir.Int, ir.Float:
		return Literal{V: v}, nil
	}
	return nil, p.errorf(tok.Pos, "invalid number %q", tok.Text)
}

// parseVariable reads a bare variable with no lambda.
func (p *parser) parseVariable() (Variable, error) {
	tok, err := p.expect(tokWord)
	if err != nil {
		return Variable{}, err
	}
	ref, err := p.parseVarRef(tok)
	if err != nil {
		return Variable{}, err
	}
	if !ref.Lambda.IsEmpty() {
		return Variable{}, p.errorf(tok.Pos, "a lambda is not allowed here: %s", tok.Text)
	}
	return ref.Var, nil
}

func (p *parser) parseVarRef(tok token) (VarRef, error) {
	w := tok.Text
	kind := KindScalar
	switch {
	case strings.HasPrefix(w, "#%"):
		kind, w = KindCanonMap, w[2:]
	case strings.HasPrefix(w, "#"):
		kind, w = KindCanon, w[1:]
	case strings.HasPrefix(w, "$"):
		kind, w = KindStream, w[1:]
	case strings.HasPrefix(w, "%"):
		kind, w = KindStreamMap, w[1:]
	}

	name, rest := w, ""
	if i := strings.IndexByte(w, '.'); i >= 0 {
		name, rest = w[:i], w[i:]
	}
	if !isIdentifier(name) {
		return VarRef{}, p.errorf(tok.Pos, "invalid variable name %q", tok.Text)
	}
	lambda, err := p.parseLambda(tok, rest)
	if err != nil {
		return VarRef{}, err
	}
	if (kind == KindStream || kind == KindStreamMap) && !lambda.IsEmpty() {
		return VarRef{}, p.errorf(tok.Pos, "lambdas cannot be applied to %s directly, canonicalize it first", tok.Text)
	}
	return VarRef{Var: Variable{Kind: kind, Name: name}, Lambda: lambda}, nil
}

// parseLambda reads the text after a variable name: "", ".length" or ".$" followed
// by .field, .[index] or .[scalar] steps.
func (p *parser) parseLambda(tok token, s string) (Lambda, error) {
	if s == "" {
		return Lambda{}, nil
	}
	if s == ".length" {
		return Lambda{Length: true}, nil
	}
	if !strings.HasPrefix(s, ".$") {
		return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: expected .$ or .length", s)
	}

	var l Lambda
	rest := s[2:]
	for rest != "" {
		if rest[0] != '.' {
			return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: expected '.'", s)
		}
		rest = rest[1:]
		if strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: missing ']'", s)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if n, err := strconv.ParseUint(inner, 10, 32); err == nil {
				l.Accessors = append(l.Accessors, Accessor{Kind: ArrayIndex, Index: uint32(n)})
				continue
			}
			if !isIdentifier(inner) {
				return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: %q is neither an index nor a scalar", s, inner)
			}
			l.Accessors = append(l.Accessors, Accessor{Kind: FieldByScalar, Scalar: inner})
			continue
		}

		end := strings.IndexByte(rest, '.')
		if end < 0 {
			end = len(rest)
		}
		field := rest[:end]
		rest = rest[end:]
		if !isIdentifier(field) {
			return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: bad field name %q", s, field)
		}
		l.Accessors = append(l.Accessors, Accessor{Kind: FieldByName, Field: field})
	}
	if len(l.Accessors) == 0 {
		return Lambda{}, p.errorf(tok.Pos, "invalid lambda %q: empty path", s)
	}
	return l, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}
