package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Constants and literals
const (
	OpConstant Opcode = 0x00 // push constant (8-bit index)
	OpNil      Opcode = 0x01 // push nil
	OpTrue     Opcode = 0x02 // push true
	OpFalse    Opcode = 0x03 // push false
)

// Stack operations
const (
	OpPop Opcode = 0x10 // discard top of stack
)

// Unary and binary operators
const (
	OpNegate   Opcode = 0x20 // arithmetic negation of top
	OpNot      Opcode = 0x21 // logical negation of top
	OpAdd      Opcode = 0x22 // numbers add; strings concatenate
	OpSubtract Opcode = 0x23 // numeric subtraction
	OpMultiply Opcode = 0x24 // numeric multiplication
	OpDivide   Opcode = 0x25 // numeric division
	OpEqual    Opcode = 0x26 // value equality
	OpGreater  Opcode = 0x27 // numeric greater-than
	OpLess     Opcode = 0x28 // numeric less-than
)

// Variable access
const (
	OpDefineGlobal Opcode = 0x30 // bind top of stack to global name (8-bit name index)
	OpGetGlobal    Opcode = 0x31 // push value of global (8-bit name index)
	OpSetGlobal    Opcode = 0x32 // assign existing global (8-bit name index)
	OpGetLocal     Opcode = 0x33 // push stack slot relative to frame base (8-bit slot)
	OpSetLocal     Opcode = 0x34 // assign stack slot relative to frame base (8-bit slot)
	OpGetUpvalue   Opcode = 0x35 // push through current closure's upvalue (8-bit index)
	OpSetUpvalue   Opcode = 0x36 // assign through current closure's upvalue (8-bit index)
	OpCloseUpvalue Opcode = 0x37 // close upvalues at/above top of stack, then pop
)

// Output
const (
	OpPrint Opcode = 0x40 // pop, render, write to stdout
)

// Control flow
const (
	OpJump        Opcode = 0x50 // unconditional jump (signed 16-bit offset)
	OpJumpIfFalse Opcode = 0x51 // jump if top is falsy, leaving top in place (signed 16-bit offset)
)

// Calls and closures
const (
	OpCall    Opcode = 0x60 // invoke callee below argc arguments (8-bit argc)
	OpClosure Opcode = 0x61 // build closure (8-bit const index + inline upvalue descriptors)
	OpReturn  Opcode = 0x62 // return top of stack to the caller
)

// Classes
const (
	OpClass        Opcode = 0x70 // create empty class (8-bit name index)
	OpDefineMethod Opcode = 0x71 // install top closure into the class below it
	OpGetProperty  Opcode = 0x72 // field or bound-method lookup (8-bit name index)
	OpSetProperty  Opcode = 0x73 // field assignment (8-bit name index)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of fixed operand bytes (-1 = variable)
	StackEffect  int    // net effect on stack depth (-128 = variable)
}

// VariableEffect marks opcodes whose stack effect depends on operands.
const VariableEffect = -128

// opcodeTable maps opcodes to their metadata. CLOSURE's operand count is
// variable: one constant index plus two bytes per upvalue descriptor of
// the referenced function.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpConstant: {"CONSTANT", 1, 1},
	OpNil:      {"NIL", 0, 1},
	OpTrue:     {"TRUE", 0, 1},
	OpFalse:    {"FALSE", 0, 1},

	OpPop: {"POP", 0, -1},

	OpNegate:   {"NEGATE", 0, 0},
	OpNot:      {"NOT", 0, 0},
	OpAdd:      {"ADD", 0, -1},
	OpSubtract: {"SUBTRACT", 0, -1},
	OpMultiply: {"MULTIPLY", 0, -1},
	OpDivide:   {"DIVIDE", 0, -1},
	OpEqual:    {"EQUAL", 0, -1},
	OpGreater:  {"GREATER", 0, -1},
	OpLess:     {"LESS", 0, -1},

	OpDefineGlobal: {"DEFINE_GLOBAL", 1, -1},
	OpGetGlobal:    {"GET_GLOBAL", 1, 1},
	OpSetGlobal:    {"SET_GLOBAL", 1, 0},
	OpGetLocal:     {"GET_LOCAL", 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, 0},
	OpGetUpvalue:   {"GET_UPVALUE", 1, 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1, 0},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 0, -1},

	OpJump:        {"JUMP", 2, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, 0},

	OpCall:    {"CALL", 1, VariableEffect},
	OpClosure: {"CLOSURE", -1, 1},
	OpReturn:  {"RETURN", 0, -1},

	OpClass:        {"CLASS", 1, 1},
	OpDefineMethod: {"DEFINE_METHOD", 0, -1},
	OpGetProperty:  {"GET_PROPERTY", 1, 0},
	OpSetProperty:  {"SET_PROPERTY", 1, -1},

	OpPrint: {"PRINT", 0, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Operand encoding
// ---------------------------------------------------------------------------

// Jump operands are signed 16-bit offsets stored big-endian, relative to
// the byte immediately after the operand.

// PutJumpOffset encodes a signed 16-bit jump offset into code at pos.
func PutJumpOffset(code []byte, pos int, offset int16) {
	code[pos] = byte(uint16(offset) >> 8)
	code[pos+1] = byte(uint16(offset))
}

// JumpOffset decodes the signed 16-bit jump offset stored at pos.
func JumpOffset(code []byte, pos int) int16 {
	return int16(uint16(code[pos])<<8 | uint16(code[pos+1]))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleChunk returns a full listing of a chunk, one instruction per
// line, headed by the given name.
func DisassembleChunk(c *Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		line, next := DisassembleInstruction(c, offset)
		b.WriteString(line)
		b.WriteByte('\n')
		offset = next
	}
	return b.String()
}

// DisassembleInstruction renders the instruction at offset and returns the
// offset of the next instruction.
func DisassembleInstruction(c *Chunk, offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := op.Info()
	prefix := fmt.Sprintf("%04d %4d  ", offset, c.LineAt(offset))

	switch op {
	case OpConstant, OpDefineGlobal, OpGetGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpClass:
		idx := c.Code[offset+1]
		return fmt.Sprintf("%s%-16s %3d  '%s'", prefix, info.Name, idx,
			c.Constants[idx].Render()), offset + 2

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		operand := c.Code[offset+1]
		return fmt.Sprintf("%s%-16s %3d", prefix, info.Name, operand), offset + 2

	case OpJump, OpJumpIfFalse:
		jump := JumpOffset(c.Code, offset+1)
		target := offset + 3 + int(jump)
		return fmt.Sprintf("%s%-16s %4d (-> %04d)", prefix, info.Name, jump, target), offset + 3

	case OpClosure:
		idx := c.Code[offset+1]
		fn := asFunction(c.Constants[idx].object())
		var b strings.Builder
		fmt.Fprintf(&b, "%s%-16s %3d  %s", prefix, info.Name, idx, fn.ToValue().Render())
		next := offset + 2
		for range fn.Upvalues {
			isLocal := c.Code[next] == 1
			index := c.Code[next+1]
			which := "upvalue"
			if isLocal {
				which = "local"
			}
			fmt.Fprintf(&b, "\n%04d      |                %s %d", next, which, index)
			next += 2
		}
		return b.String(), next

	default:
		return prefix + info.Name, offset + 1 + info.OperandBytes
	}
}
