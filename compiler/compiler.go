package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/briar/vm"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is one accumulated compile error.
type Error struct {
	Message string
	Line    int
}

// Error renders the canonical compile error line.
func (e Error) Error() string {
	return fmt.Sprintf("[line %d] Error: %s", e.Line, e.Message)
}

// ---------------------------------------------------------------------------
// Precedence ladder
// ---------------------------------------------------------------------------

// Precedence orders infix operators from loosest to tightest binding.
type Precedence byte

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
)

type parseFn func(p *Parser, canAssign bool)

// parseRule maps a token type to its prefix and infix handlers and the
// precedence of its infix form.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// rules is the Pratt dispatch table, indexed by token type.
var rules [TokenCount]parseRule

func init() {
	rules[TokenLeftParen] = parseRule{(*Parser).grouping, (*Parser).callExpr, PrecCall}
	rules[TokenDot] = parseRule{nil, (*Parser).dot, PrecCall}
	rules[TokenMinus] = parseRule{(*Parser).unary, (*Parser).binary, PrecTerm}
	rules[TokenPlus] = parseRule{nil, (*Parser).binary, PrecTerm}
	rules[TokenSlash] = parseRule{nil, (*Parser).binary, PrecFactor}
	rules[TokenStar] = parseRule{nil, (*Parser).binary, PrecFactor}
	rules[TokenBang] = parseRule{(*Parser).unary, nil, PrecNone}
	rules[TokenBangEqual] = parseRule{nil, (*Parser).binary, PrecEquality}
	rules[TokenEqualEqual] = parseRule{nil, (*Parser).binary, PrecEquality}
	rules[TokenGreater] = parseRule{nil, (*Parser).binary, PrecComparison}
	rules[TokenGreaterEqual] = parseRule{nil, (*Parser).binary, PrecComparison}
	rules[TokenLess] = parseRule{nil, (*Parser).binary, PrecComparison}
	rules[TokenLessEqual] = parseRule{nil, (*Parser).binary, PrecComparison}
	rules[TokenIdentifier] = parseRule{(*Parser).variable, nil, PrecNone}
	rules[TokenString] = parseRule{(*Parser).stringLiteral, nil, PrecNone}
	rules[TokenNumber] = parseRule{(*Parser).number, nil, PrecNone}
	rules[TokenAnd] = parseRule{nil, (*Parser).and, PrecAnd}
	rules[TokenOr] = parseRule{nil, (*Parser).or, PrecOr}
	rules[TokenFalse] = parseRule{(*Parser).literal, nil, PrecNone}
	rules[TokenNil] = parseRule{(*Parser).literal, nil, PrecNone}
	rules[TokenTrue] = parseRule{(*Parser).literal, nil, PrecNone}
	rules[TokenThis] = parseRule{(*Parser).this, nil, PrecNone}
}

// ---------------------------------------------------------------------------
// Function compilation contexts
// ---------------------------------------------------------------------------

// FunctionKind distinguishes how a function context binds slot 0 and what
// returns are legal inside it.
type FunctionKind byte

const (
	KindTopLevel FunctionKind = iota
	KindFunction
	KindMethod
	KindInitializer
)

// Per-function limits; slot and upvalue operands are single bytes.
const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArity    = 255
)

// local is one declared local variable of the function being compiled.
type local struct {
	name string
	// depth is the scope depth at declaration, or -1 while the
	// initializer is still being compiled.
	depth    int
	captured bool
}

// funcCompiler is the per-function compilation context. Contexts nest:
// compiling a nested function pushes a new context whose enclosing pointer
// walks back toward the top level.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *vm.FunctionObject
	kind       FunctionKind
	locals     []local
	scopeDepth int
}

func newFuncCompiler(enclosing *funcCompiler, fn *vm.FunctionObject, kind FunctionKind) *funcCompiler {
	fc := &funcCompiler{
		enclosing: enclosing,
		function:  fn,
		kind:      kind,
		locals:    make([]local, 0, 8),
	}
	// Slot 0 is reserved: the callee itself, or the receiver in methods.
	// The reserved name keeps user code from resolving to it, except that
	// methods deliberately bind it as `this`.
	slotName := ""
	if kind == KindMethod || kind == KindInitializer {
		slotName = "this"
	}
	fc.locals = append(fc.locals, local{name: slotName, depth: 0})
	return fc
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser compiles source text to bytecode in a single pass. While a
// compilation is in progress it is registered as a GC root source so the
// functions being built survive collections triggered by its own
// allocations.
type Parser struct {
	lexer *Lexer
	heap  *vm.Heap

	current  Token
	previous Token

	fc         *funcCompiler
	classDepth int

	errors    []Error
	panicMode bool
}

// Compile compiles a complete program and returns its top-level function.
// If any error was recorded the function is nil and the errors are
// returned in source order; nothing is ever executed from a failed
// compilation.
func Compile(source string, heap *vm.Heap) (*vm.FunctionObject, []Error) {
	p := &Parser{
		lexer: NewLexer(source),
		heap:  heap,
	}
	p.fc = newFuncCompiler(nil, heap.NewFunction("", 0), KindTopLevel)

	heap.AddRootSource(p)
	defer heap.RemoveRootSource(p)

	p.advance()
	for !p.match(TokenEOF) {
		p.declaration()
	}
	fn := p.endFunction()

	if len(p.errors) > 0 {
		return nil, p.errors
	}
	return fn, nil
}

// MarkRoots implements vm.RootSource: every function on the context chain
// is a root while compilation is in progress.
func (p *Parser) MarkRoots(h *vm.Heap) {
	for fc := p.fc; fc != nil; fc = fc.enclosing {
		h.MarkValue(fc.function.ToValue())
	}
}

// ---------------------------------------------------------------------------
// Token plumbing
// ---------------------------------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.lexer.NextToken()
		if p.current.Type != TokenError {
			break
		}
		// ERROR tokens carry the scanner's message as their lexeme.
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) consume(t TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) check(t TokenType) bool {
	return p.current.Type == t
}

func (p *Parser) match(t TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) errorAt(token Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.errors = append(p.errors, Error{Message: message, Line: token.Line})
}

func (p *Parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *Parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

// synchronize skips to a statement boundary after a parse error, so one
// mistake doesn't cascade into a wall of spurious reports.
func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Type != TokenEOF {
		if p.previous.Type == TokenSemicolon {
			return
		}
		switch p.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor,
			TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (p *Parser) chunk() *vm.Chunk {
	return &p.fc.function.Chunk
}

func (p *Parser) emitByte(b byte) {
	p.chunk().Write(b, p.previous.Line)
}

func (p *Parser) emitOp(op vm.Opcode) {
	p.emitByte(byte(op))
}

func (p *Parser) emitOps(op vm.Opcode, operand byte) {
	p.emitOp(op)
	p.emitByte(operand)
}

func (p *Parser) makeConstant(v vm.Value) byte {
	index := p.chunk().AddConstant(v)
	if index < 0 {
		p.error("too many constants in one chunk")
		return 0
	}
	return byte(index)
}

func (p *Parser) emitConstant(v vm.Value) {
	p.emitOps(vm.OpConstant, p.makeConstant(v))
}

// emitJump emits op with two placeholder bytes and returns the offset of
// the first placeholder for later patching.
func (p *Parser) emitJump(op vm.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xFF)
	p.emitByte(0xFF)
	return len(p.chunk().Code) - 2
}

// patchJump points a forward jump at the current position. The operand is
// relative to the byte after itself.
func (p *Parser) patchJump(placeholder int) {
	jump := len(p.chunk().Code) - placeholder - 2
	if jump > 32767 {
		p.error("too much code to jump over")
		return
	}
	vm.PutJumpOffset(p.chunk().Code, placeholder, int16(jump))
}

// emitLoop emits a backward jump to loopStart.
func (p *Parser) emitLoop(loopStart int) {
	p.emitOp(vm.OpJump)
	offset := loopStart - (len(p.chunk().Code) + 2)
	if offset < -32768 {
		p.error("loop body too large")
		offset = 0
	}
	p.emitByte(0xFF)
	p.emitByte(0xFF)
	vm.PutJumpOffset(p.chunk().Code, len(p.chunk().Code)-2, int16(offset))
}

// emitReturn emits the automatic return value: the receiver in an
// initializer, nil elsewhere.
func (p *Parser) emitReturn() {
	if p.fc.kind == KindInitializer {
		p.emitOps(vm.OpGetLocal, 0)
	} else {
		p.emitOp(vm.OpNil)
	}
	p.emitOp(vm.OpReturn)
}

// endFunction finishes the current context and returns its function.
func (p *Parser) endFunction() *vm.FunctionObject {
	p.emitReturn()
	fn := p.fc.function
	p.fc = p.fc.enclosing
	return fn
}

// ---------------------------------------------------------------------------
// Scopes, locals, and upvalues
// ---------------------------------------------------------------------------

func (p *Parser) beginScope() {
	p.fc.scopeDepth++
}

// endScope discards the scope's locals: captured ones are closed into
// their upvalues, the rest are simply popped.
func (p *Parser) endScope() {
	fc := p.fc
	fc.scopeDepth--
	for len(fc.locals) > 0 && fc.locals[len(fc.locals)-1].depth > fc.scopeDepth {
		if fc.locals[len(fc.locals)-1].captured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
		fc.locals = fc.locals[:len(fc.locals)-1]
	}
}

func (p *Parser) addLocal(name string) {
	if len(p.fc.locals) >= maxLocals {
		p.error("too many local variables in function")
		return
	}
	// Depth -1 marks the local as declared but uninitialized until its
	// initializer finishes.
	p.fc.locals = append(p.fc.locals, local{name: name, depth: -1})
}

// declareVariable registers a local in the current scope. At top scope
// depth globals are late-bound and need no declaration.
func (p *Parser) declareVariable() {
	if p.fc.scopeDepth == 0 {
		return
	}
	name := p.previous.Lexeme
	for i := len(p.fc.locals) - 1; i >= 0; i-- {
		l := &p.fc.locals[i]
		if l.depth != -1 && l.depth < p.fc.scopeDepth {
			break
		}
		if l.name == name {
			p.error("already a variable with this name in this scope")
		}
	}
	p.addLocal(name)
}

func (p *Parser) markInitialized() {
	if p.fc.scopeDepth == 0 {
		return
	}
	p.fc.locals[len(p.fc.locals)-1].depth = p.fc.scopeDepth
}

// resolveLocal returns the slot of a local with the given name, searching
// from the innermost declaration outward, or -1 if the name is not a
// local of fc.
func (p *Parser) resolveLocal(fc *funcCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if l.name == name {
			if l.depth == -1 {
				p.error("cannot read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records a captured-variable descriptor on fc's function,
// deduplicating by (index, isLocal), and returns its position.
func (p *Parser) addUpvalue(fc *funcCompiler, index byte, isLocal bool) int {
	fn := fc.function
	for i, u := range fn.Upvalues {
		if u.Index == index && u.IsLocal == isLocal {
			return i
		}
	}
	if len(fn.Upvalues) >= maxUpvalues {
		p.error("too many closure variables in function")
		return 0
	}
	fn.Upvalues = append(fn.Upvalues, vm.UpvalueDesc{Index: index, IsLocal: isLocal})
	return len(fn.Upvalues) - 1
}

// resolveUpvalue resolves a name against fc's enclosing functions,
// chaining capture descriptors through every intermediate context.
// Returns the upvalue index in fc, or -1 if the name resolves globally.
func (p *Parser) resolveUpvalue(fc *funcCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if localIndex := p.resolveLocal(fc.enclosing, name); localIndex != -1 {
		fc.enclosing.locals[localIndex].captured = true
		return p.addUpvalue(fc, byte(localIndex), true)
	}
	if upvalueIndex := p.resolveUpvalue(fc.enclosing, name); upvalueIndex != -1 {
		return p.addUpvalue(fc, byte(upvalueIndex), false)
	}
	return -1
}

// identifierConstant interns a name and stores it in the constant pool.
func (p *Parser) identifierConstant(name string) byte {
	return p.makeConstant(p.heap.InternString(name).ToValue())
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parsePrecedence parses one expression at or above the given binding
// strength. Assignment is only recognized when the context allows it.
func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefix := rules[p.previous.Type].prefix
	if prefix == nil {
		p.error("expected expression")
		return
	}

	canAssign := prec <= PrecAssignment
	prefix(p, canAssign)

	for prec <= rules[p.current.Type].precedence {
		p.advance()
		rules[p.previous.Type].infix(p, canAssign)
	}

	// A leftover `=` means the target to its left was not assignable.
	if canAssign && p.match(TokenEqual) {
		p.error("invalid assignment target")
	}
}

func (p *Parser) expression() {
	p.parsePrecedence(PrecAssignment)
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(TokenRightParen, "expected ')' after expression")
}

func (p *Parser) number(canAssign bool) {
	n, err := strconv.ParseFloat(p.previous.Lexeme, 64)
	if err != nil {
		p.error("invalid number literal")
		return
	}
	p.emitConstant(vm.FromNumber(n))
}

func (p *Parser) stringLiteral(canAssign bool) {
	// Strip the surrounding quotes.
	text := p.previous.Lexeme[1 : len(p.previous.Lexeme)-1]
	p.emitConstant(p.heap.InternString(text).ToValue())
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case TokenFalse:
		p.emitOp(vm.OpFalse)
	case TokenNil:
		p.emitOp(vm.OpNil)
	case TokenTrue:
		p.emitOp(vm.OpTrue)
	}
}

func (p *Parser) unary(canAssign bool) {
	operator := p.previous.Type
	p.parsePrecedence(PrecUnary)
	switch operator {
	case TokenMinus:
		p.emitOp(vm.OpNegate)
	case TokenBang:
		p.emitOp(vm.OpNot)
	}
}

func (p *Parser) binary(canAssign bool) {
	operator := p.previous.Type
	p.parsePrecedence(rules[operator].precedence + 1)

	switch operator {
	case TokenPlus:
		p.emitOp(vm.OpAdd)
	case TokenMinus:
		p.emitOp(vm.OpSubtract)
	case TokenStar:
		p.emitOp(vm.OpMultiply)
	case TokenSlash:
		p.emitOp(vm.OpDivide)
	case TokenEqualEqual:
		p.emitOp(vm.OpEqual)
	case TokenBangEqual:
		p.emitOp(vm.OpEqual)
		p.emitOp(vm.OpNot)
	case TokenGreater:
		p.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		p.emitOp(vm.OpLess)
		p.emitOp(vm.OpNot)
	case TokenLess:
		p.emitOp(vm.OpLess)
	case TokenLessEqual:
		p.emitOp(vm.OpGreater)
		p.emitOp(vm.OpNot)
	}
}

// and short-circuits over the right operand, leaving the deciding operand
// on the stack as the result.
func (p *Parser) and(canAssign bool) {
	endJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump)
}

// or jumps over the right operand when the left is truthy.
func (p *Parser) or(canAssign bool) {
	elseJump := p.emitJump(vm.OpJumpIfFalse)
	endJump := p.emitJump(vm.OpJump)
	p.patchJump(elseJump)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

func (p *Parser) callExpr(canAssign bool) {
	argc := p.argumentList()
	p.emitOps(vm.OpCall, argc)
}

func (p *Parser) argumentList() byte {
	argc := 0
	if !p.check(TokenRightParen) {
		for {
			p.expression()
			if argc == maxArity {
				p.error("cannot have more than 255 arguments")
			}
			argc++
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "expected ')' after arguments")
	return byte(argc)
}

func (p *Parser) dot(canAssign bool) {
	p.consume(TokenIdentifier, "expected property name after '.'")
	name := p.identifierConstant(p.previous.Lexeme)

	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.emitOps(vm.OpSetProperty, name)
	} else {
		p.emitOps(vm.OpGetProperty, name)
	}
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous.Lexeme, canAssign)
}

// namedVariable emits the access or assignment for a name, resolving it
// as a local, then an upvalue, then a global.
func (p *Parser) namedVariable(name string, canAssign bool) {
	var getOp, setOp vm.Opcode
	var operand byte

	if slot := p.resolveLocal(p.fc, name); slot != -1 {
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
		operand = byte(slot)
	} else if index := p.resolveUpvalue(p.fc, name); index != -1 {
		getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
		operand = byte(index)
	} else {
		getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
		operand = p.identifierConstant(name)
	}

	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.emitOps(setOp, operand)
	} else {
		p.emitOps(getOp, operand)
	}
}

func (p *Parser) this(canAssign bool) {
	if p.classDepth == 0 {
		p.error("cannot use 'this' outside of a class")
		return
	}
	// `this` reads the method frame's slot 0 and is never assignable.
	p.namedVariable("this", false)
}

// ---------------------------------------------------------------------------
// Statements and declarations
// ---------------------------------------------------------------------------

func (p *Parser) declaration() {
	switch {
	case p.match(TokenClass):
		p.classDeclaration()
	case p.match(TokenFun):
		p.funDeclaration()
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(TokenPrint):
		p.printStatement()
	case p.match(TokenIf):
		p.ifStatement()
	case p.match(TokenWhile):
		p.whileStatement()
	case p.match(TokenFor):
		p.forStatement()
	case p.match(TokenReturn):
		p.returnStatement()
	case p.match(TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.declaration()
	}
	p.consume(TokenRightBrace, "expected '}' after block")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(TokenSemicolon, "expected ';' after expression")
	p.emitOp(vm.OpPop)
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(TokenSemicolon, "expected ';' after value")
	p.emitOp(vm.OpPrint)
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// parseVariable consumes a variable name. For globals it returns the name
// constant index; for locals it declares the slot and returns 0.
func (p *Parser) parseVariable(message string) byte {
	p.consume(TokenIdentifier, message)
	p.declareVariable()
	if p.fc.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous.Lexeme)
}

func (p *Parser) defineVariable(global byte) {
	if p.fc.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOps(vm.OpDefineGlobal, global)
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("expected variable name")
	if p.match(TokenEqual) {
		p.expression()
	} else {
		p.emitOp(vm.OpNil)
	}
	p.consume(TokenSemicolon, "expected ';' after variable declaration")
	p.defineVariable(global)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (p *Parser) ifStatement() {
	p.consume(TokenLeftParen, "expected '(' after 'if'")
	p.expression()
	p.consume(TokenRightParen, "expected ')' after condition")

	thenJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	elseJump := p.emitJump(vm.OpJump)

	p.patchJump(thenJump)
	p.emitOp(vm.OpPop)
	if p.match(TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.chunk().Code)
	p.consume(TokenLeftParen, "expected '(' after 'while'")
	p.expression()
	p.consume(TokenRightParen, "expected ')' after condition")

	exitJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(vm.OpPop)
}

// forStatement desugars `for (init; cond; inc) body` so the increment
// runs after the body and before the next condition test.
func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(TokenLeftParen, "expected '(' after 'for'")

	switch {
	case p.match(TokenSemicolon):
		// No initializer.
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.chunk().Code)
	exitJump := -1
	if !p.match(TokenSemicolon) {
		p.expression()
		p.consume(TokenSemicolon, "expected ';' after loop condition")
		exitJump = p.emitJump(vm.OpJumpIfFalse)
		p.emitOp(vm.OpPop)
	}

	if !p.match(TokenRightParen) {
		bodyJump := p.emitJump(vm.OpJump)
		incrementStart := len(p.chunk().Code)
		p.expression()
		p.emitOp(vm.OpPop)
		p.consume(TokenRightParen, "expected ')' after for clauses")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(vm.OpPop)
	}
	p.endScope()
}

func (p *Parser) returnStatement() {
	if p.fc.kind == KindTopLevel {
		p.error("cannot return from top-level code")
	}
	if p.match(TokenSemicolon) {
		p.emitReturn()
		return
	}
	if p.fc.kind == KindInitializer {
		p.error("cannot return a value from an initializer")
	}
	p.expression()
	p.consume(TokenSemicolon, "expected ';' after return value")
	p.emitOp(vm.OpReturn)
}

// ---------------------------------------------------------------------------
// Functions and classes
// ---------------------------------------------------------------------------

func (p *Parser) funDeclaration() {
	global := p.parseVariable("expected function name")
	// The function may refer to itself recursively, so its binding
	// initializes before the body compiles.
	p.markInitialized()
	p.function(p.previous.Lexeme, KindFunction)
	p.defineVariable(global)
}

// function compiles a parameter list and body in a fresh context, then
// emits the CLOSURE instruction with inline upvalue descriptors into the
// enclosing chunk.
func (p *Parser) function(name string, kind FunctionKind) {
	p.fc = newFuncCompiler(p.fc, p.heap.NewFunction(name, 0), kind)
	p.beginScope()

	p.consume(TokenLeftParen, "expected '(' after function name")
	if !p.check(TokenRightParen) {
		for {
			p.fc.function.Arity++
			if p.fc.function.Arity > maxArity {
				p.errorAtCurrent("cannot have more than 255 parameters")
			}
			constant := p.parseVariable("expected parameter name")
			p.defineVariable(constant)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "expected ')' after parameters")
	p.consume(TokenLeftBrace, "expected '{' before function body")
	p.block()

	fn := p.endFunction()
	p.emitOps(vm.OpClosure, p.makeConstant(fn.ToValue()))
	for _, u := range fn.Upvalues {
		if u.IsLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(u.Index)
	}
}

func (p *Parser) method() {
	p.consume(TokenIdentifier, "expected method name")
	name := p.previous.Lexeme
	kind := KindMethod
	if name == "init" {
		kind = KindInitializer
	}
	p.function(name, kind)
	// DEFINE_METHOD reads the closure's function name to pick the slot in
	// the class's method table.
	p.emitOp(vm.OpDefineMethod)
}

func (p *Parser) classDeclaration() {
	p.consume(TokenIdentifier, "expected class name")
	className := p.previous.Lexeme
	nameConstant := p.identifierConstant(className)
	p.declareVariable()

	p.emitOps(vm.OpClass, nameConstant)
	p.defineVariable(nameConstant)

	p.classDepth++
	// The class value goes back on top of the stack so DEFINE_METHOD can
	// find it below each method closure.
	p.namedVariable(className, false)
	p.consume(TokenLeftBrace, "expected '{' before class body")
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.method()
	}
	p.consume(TokenRightBrace, "expected '}' after class body")
	p.emitOp(vm.OpPop)
	p.classDepth--
}
