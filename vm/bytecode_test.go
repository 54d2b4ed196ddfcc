package vm

import (
	"strings"
	"testing"
)

func TestJumpOffsetRoundTrip(t *testing.T) {
	code := make([]byte, 2)
	cases := []int16{0, 1, -1, 300, -300, 32767, -32768}
	for _, offset := range cases {
		PutJumpOffset(code, 0, offset)
		if got := JumpOffset(code, 0); got != offset {
			t.Errorf("jump offset %d round-tripped to %d", offset, got)
		}
	}
}

func TestJumpOffsetBigEndian(t *testing.T) {
	code := make([]byte, 2)
	PutJumpOffset(code, 0, 0x0102)
	if code[0] != 0x01 || code[1] != 0x02 {
		t.Fatalf("offset stored as [%#x %#x], want big-endian [0x1 0x2]", code[0], code[1])
	}
}

func TestOpcodeNames(t *testing.T) {
	cases := []struct {
		op   Opcode
		want string
	}{
		{OpConstant, "CONSTANT"},
		{OpCloseUpvalue, "CLOSE_UPVALUE"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpDefineMethod, "DEFINE_METHOD"},
		{OpGetProperty, "GET_PROPERTY"},
		{Opcode(0xEE), "UNKNOWN_EE"},
	}
	for _, tc := range cases {
		if got := tc.op.Name(); got != tc.want {
			t.Errorf("Name(%#x) = %q, want %q", byte(tc.op), got, tc.want)
		}
	}
}

func TestEveryTableEntryRenders(t *testing.T) {
	for op, info := range opcodeTable {
		if info.Name == "" {
			t.Errorf("opcode %#x has no name", byte(op))
		}
		if op.String() != info.Name {
			t.Errorf("String(%#x) = %q, want %q", byte(op), op.String(), info.Name)
		}
	}
}

func TestDisassembleSimpleChunk(t *testing.T) {
	var c Chunk
	idx := c.AddConstant(FromNumber(42))
	c.Write(byte(OpConstant), 1)
	c.Write(byte(idx), 1)
	c.Write(byte(OpPrint), 1)
	c.Write(byte(OpNil), 2)
	c.Write(byte(OpReturn), 2)

	listing := DisassembleChunk(&c, "test")
	for _, want := range []string{"== test ==", "CONSTANT", "'42'", "PRINT", "NIL", "RETURN"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestDisassembleJumpTargets(t *testing.T) {
	var c Chunk
	c.Write(byte(OpJumpIfFalse), 1)
	c.Write(0, 1)
	c.Write(2, 1) // over the two POPs below
	c.Write(byte(OpPop), 1)
	c.Write(byte(OpPop), 1)
	c.Write(byte(OpReturn), 1)

	line, next := DisassembleInstruction(&c, 0)
	if next != 3 {
		t.Fatalf("next offset = %d, want 3", next)
	}
	if !strings.Contains(line, "JUMP_IF_FALSE") || !strings.Contains(line, "-> 0005") {
		t.Errorf("jump rendering wrong: %q", line)
	}
}

func TestDisassembleClosure(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	fn := heap.NewFunction("inner", 0)
	fn.Upvalues = []UpvalueDesc{{Index: 1, IsLocal: true}, {Index: 0, IsLocal: false}}

	var c Chunk
	idx := c.AddConstant(fn.ToValue())
	c.Write(byte(OpClosure), 4)
	c.Write(byte(idx), 4)
	c.Write(1, 4) // is_local
	c.Write(1, 4) // index
	c.Write(0, 4) // is_local
	c.Write(0, 4) // index

	line, next := DisassembleInstruction(&c, 0)
	if next != 6 {
		t.Fatalf("next offset = %d, want 6", next)
	}
	if !strings.Contains(line, "<fn inner>") {
		t.Errorf("closure rendering missing function: %q", line)
	}
	if !strings.Contains(line, "local 1") || !strings.Contains(line, "upvalue 0") {
		t.Errorf("closure rendering missing descriptors: %q", line)
	}
}
