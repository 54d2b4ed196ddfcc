package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("briar.vm")

// Default resource caps. Exceeding either is a runtime error, not a panic.
const (
	DefaultStackSize  = 64 * 256
	DefaultFrameDepth = 64
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// TraceEntry is one call frame of a runtime error's back-trace.
type TraceEntry struct {
	Line     int
	Function string
}

// RuntimeError is an error raised during bytecode execution. It carries
// the source line of the faulting instruction and a back-trace of all live
// frames, innermost first.
type RuntimeError struct {
	Message string
	Trace   []TraceEntry
}

// Error renders the message followed by one back-trace line per frame.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, entry := range e.Trace {
		fmt.Fprintf(&b, "\n in line %d, function %s", entry.Line, entry.Function)
	}
	return b.String()
}

// Line returns the source line of the faulting instruction, or 0 if the
// trace is empty.
func (e *RuntimeError) Line() int {
	if len(e.Trace) == 0 {
		return 0
	}
	return e.Trace[0].Line
}

// ---------------------------------------------------------------------------
// CallFrame: execution state of one invocation
// ---------------------------------------------------------------------------

// CallFrame ties a live closure to its instruction pointer and its base
// slot on the value stack. Slot base holds the invoked callee, or the
// receiver for bound-method calls.
type CallFrame struct {
	Closure *ClosureObject
	ip      int
	base    int
}

func (f *CallFrame) chunk() *Chunk {
	return &f.Closure.Function.Chunk
}

// ---------------------------------------------------------------------------
// VM: the Briar virtual machine
// ---------------------------------------------------------------------------

// VM executes compiled Briar functions. A VM owns its value stack, call
// frames, globals, and open-upvalue list; it registers itself as a root
// source on its heap for the duration of its lifetime.
type VM struct {
	heap *Heap

	stack []Value
	sp    int

	frames     []CallFrame
	frameCount int

	globals      map[string]Value
	openUpvalues []*UpvalueObject // ordered by ascending stack slot

	stdout io.Writer
	trace  bool
}

// Options configures a new VM. Zero values select the defaults.
type Options struct {
	// StackSize is the value stack capacity in slots.
	StackSize int
	// FrameDepth is the call frame capacity.
	FrameDepth int
	// Stdout receives PRINT output; defaults to os.Stdout.
	Stdout io.Writer
	// Trace dumps the stack and each instruction to stderr while running.
	Trace bool
}

// New creates a VM bound to the given heap.
func New(heap *Heap, opts Options) *VM {
	stackSize := opts.StackSize
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	frameDepth := opts.FrameDepth
	if frameDepth <= 0 {
		frameDepth = DefaultFrameDepth
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	vm := &VM{
		heap:    heap,
		stack:   make([]Value, stackSize),
		frames:  make([]CallFrame, frameDepth),
		globals: make(map[string]Value),
		stdout:  stdout,
		trace:   opts.Trace,
	}
	heap.AddRootSource(vm)
	return vm
}

// Close unregisters the VM from its heap's root set.
func (vm *VM) Close() {
	vm.heap.RemoveRootSource(vm)
	vmLog.Debugf("vm closed: %d globals, %d heap objects live",
		len(vm.globals), vm.heap.ObjectCount())
}

// Heap returns the heap this VM allocates on.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// DefineNative registers a host function under the given global name with
// a declared arity. It must be called before interpretation; the function
// appears to programs as a predefined global.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	native := vm.heap.NewNative(name, arity, fn)
	vm.globals[name] = native.ToValue()
}

// MarkRoots implements RootSource: every stack slot in use, every global
// value, every frame closure, and every open upvalue.
func (vm *VM) MarkRoots(h *Heap) {
	for i := 0; i < vm.sp; i++ {
		h.MarkValue(vm.stack[i])
	}
	for _, v := range vm.globals {
		h.MarkValue(v)
	}
	for i := 0; i < vm.frameCount; i++ {
		h.markObject(&vm.frames[i].Closure.header)
	}
	for _, upvalue := range vm.openUpvalues {
		h.markObject(&upvalue.header)
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) *RuntimeError {
	if vm.sp >= len(vm.stack) {
		return vm.runtimeError("stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() Value {
	if vm.sp == 0 {
		panic("vm: stack underflow")
	}
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

// StackDepth returns the current value stack depth.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// Globals exposes the global environment (used by hosts and tests).
func (vm *VM) Globals() map[string]Value {
	return vm.globals
}

// ---------------------------------------------------------------------------
// Run: interpret a compiled top-level function
// ---------------------------------------------------------------------------

// Run wraps a compiled top-level function in a closure, pushes the initial
// call frame, and interprets to completion. A returned error is always a
// *RuntimeError; the VM's stack and frames are reset before it is
// returned, so the VM can keep being used (the REPL relies on this).
func (vm *VM) Run(fn *FunctionObject) error {
	if err := vm.push(fn.ToValue()); err != nil {
		return err
	}
	// The function is reachable from the stack while the closure is
	// allocated, then replaced by it.
	closure := vm.heap.NewClosure(fn)
	vm.stack[vm.sp-1] = closure.ToValue()

	if err := vm.call(closure, 0); err != nil {
		vm.reset()
		return err
	}
	if err := vm.run(); err != nil {
		vm.reset()
		return err
	}
	return nil
}

func (vm *VM) reset() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = vm.openUpvalues[:0]
}

// runtimeError builds a RuntimeError at the current instruction, with a
// back-trace of all live frames from innermost to outermost.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		name := frame.Closure.Function.Name
		if name == "" {
			name = "script"
		}
		// The ip has advanced past the faulting instruction.
		err.Trace = append(err.Trace, TraceEntry{
			Line:     frame.chunk().LineAt(frame.ip - 1),
			Function: name,
		})
	}
	return err
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) run() *RuntimeError {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.chunk().Code[frame.ip]
		frame.ip++
		return b
	}
	readJump := func() int16 {
		offset := JumpOffset(frame.chunk().Code, frame.ip)
		frame.ip += 2
		return offset
	}
	readConstant := func() Value {
		return frame.chunk().Constants[readByte()]
	}
	readName := func() *StringObject {
		return asString(readConstant().object())
	}

	for {
		if vm.trace {
			vm.dumpStack(os.Stderr)
			line, _ := DisassembleInstruction(frame.chunk(), frame.ip)
			fmt.Fprintln(os.Stderr, line)
		}

		switch op := Opcode(readByte()); op {
		case OpConstant:
			if err := vm.push(readConstant()); err != nil {
				return err
			}

		case OpNil:
			if err := vm.push(Nil); err != nil {
				return err
			}

		case OpTrue:
			if err := vm.push(True); err != nil {
				return err
			}

		case OpFalse:
			if err := vm.push(False); err != nil {
				return err
			}

		case OpPop:
			vm.pop()

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand must be a number")
			}
			vm.stack[vm.sp-1] = FromNumber(-vm.peek(0).Number())

		case OpNot:
			vm.stack[vm.sp-1] = FromBool(!vm.peek(0).IsTruthy())

		case OpAdd:
			a, b := vm.peek(1), vm.peek(0)
			switch {
			case a.IsNumber() && b.IsNumber():
				vm.pop()
				vm.pop()
				vm.stack[vm.sp] = FromNumber(a.Number() + b.Number())
				vm.sp++
			case a.Kind() == KindString && b.Kind() == KindString:
				// Both operands stay on the stack across the interning
				// allocation so a triggered collection sees them as roots.
				result := vm.heap.InternString(asString(a.object()).S + asString(b.object()).S)
				vm.pop()
				vm.pop()
				vm.stack[vm.sp] = result.ToValue()
				vm.sp++
			default:
				return vm.runtimeError("operands must be two numbers or two strings")
			}

		case OpSubtract, OpMultiply, OpDivide, OpGreater, OpLess:
			a, b := vm.peek(1), vm.peek(0)
			if !a.IsNumber() || !b.IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			vm.pop()
			vm.pop()
			var result Value
			switch op {
			case OpSubtract:
				result = FromNumber(a.Number() - b.Number())
			case OpMultiply:
				result = FromNumber(a.Number() * b.Number())
			case OpDivide:
				result = FromNumber(a.Number() / b.Number())
			case OpGreater:
				result = FromBool(a.Number() > b.Number())
			case OpLess:
				result = FromBool(a.Number() < b.Number())
			}
			vm.stack[vm.sp] = result
			vm.sp++

		case OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.stack[vm.sp] = FromBool(Equal(a, b))
			vm.sp++

		case OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().Render())

		case OpDefineGlobal:
			name := readName()
			vm.globals[name.S] = vm.peek(0)
			vm.pop()

		case OpGetGlobal:
			name := readName()
			value, ok := vm.globals[name.S]
			if !ok {
				return vm.runtimeError("undefined variable '%s'", name.S)
			}
			if err := vm.push(value); err != nil {
				return err
			}

		case OpSetGlobal:
			name := readName()
			if _, ok := vm.globals[name.S]; !ok {
				return vm.runtimeError("undefined variable '%s'", name.S)
			}
			// Assignment is an expression; the value stays on the stack.
			vm.globals[name.S] = vm.peek(0)

		case OpGetLocal:
			slot := int(readByte())
			if err := vm.push(vm.stack[frame.base+slot]); err != nil {
				return err
			}

		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.base+slot] = vm.peek(0)

		case OpGetUpvalue:
			upvalue := frame.Closure.Upvalues[readByte()]
			if err := vm.push(vm.upvalueGet(upvalue)); err != nil {
				return err
			}

		case OpSetUpvalue:
			upvalue := frame.Closure.Upvalues[readByte()]
			vm.upvalueSet(upvalue, vm.peek(0))

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OpJump:
			frame.ip += int(readJump())

		case OpJumpIfFalse:
			offset := readJump()
			if !vm.peek(0).IsTruthy() {
				frame.ip += int(offset)
			}

		case OpCall:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			fn := asFunction(readConstant().object())
			closure := vm.heap.NewClosure(fn)
			// Root the closure before upvalue allocations can collect.
			if err := vm.push(closure.ToValue()); err != nil {
				return err
			}
			for i := range fn.Upvalues {
				isLocal := readByte() == 1
				index := int(readByte())
				if isLocal {
					closure.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[index]
				}
			}

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.sp = frame.base
				return nil
			}
			vm.sp = frame.base
			vm.stack[vm.sp] = result
			vm.sp++
			frame = &vm.frames[vm.frameCount-1]

		case OpClass:
			name := readName()
			class := vm.heap.NewClass(name)
			if err := vm.push(class.ToValue()); err != nil {
				return err
			}

		case OpDefineMethod:
			method := asClosure(vm.peek(0).object())
			class := asClass(vm.peek(1).object())
			class.Methods[method.Function.Name] = method
			vm.pop()

		case OpGetProperty:
			instance, ok := AsInstance(vm.peek(0))
			if !ok {
				return vm.runtimeError("only instances have properties")
			}
			name := readName()
			if value, ok := instance.Fields[name.S]; ok {
				vm.pop()
				vm.stack[vm.sp] = value
				vm.sp++
				break
			}
			method, ok := instance.Class.Methods[name.S]
			if !ok {
				return vm.runtimeError("undefined property '%s'", name.S)
			}
			// The instance stays on the stack across the allocation.
			bound := vm.heap.NewBoundMethod(instance, method)
			vm.pop()
			vm.stack[vm.sp] = bound.ToValue()
			vm.sp++

		case OpSetProperty:
			instance, ok := AsInstance(vm.peek(1))
			if !ok {
				return vm.runtimeError("only instances have fields")
			}
			name := readName()
			// Fields are created on first assignment.
			instance.Fields[name.S] = vm.peek(0)
			value := vm.pop()
			vm.pop()
			vm.stack[vm.sp] = value
			vm.sp++

		default:
			panic(fmt.Sprintf("vm: unknown opcode 0x%02X", byte(op)))
		}
	}
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// callValue invokes callee with argc arguments already on the stack.
func (vm *VM) callValue(callee Value, argc int) *RuntimeError {
	if callee.IsObject() {
		switch callee.Kind() {
		case KindClosure:
			return vm.call(asClosure(callee.object()), argc)

		case KindBoundMethod:
			bound := asBoundMethod(callee.object())
			// The receiver takes the callee's slot so it becomes the
			// method frame's slot 0 (`this`).
			vm.stack[vm.sp-argc-1] = bound.Receiver.ToValue()
			return vm.call(bound.Method, argc)

		case KindClass:
			class := asClass(callee.object())
			instance := vm.heap.NewInstance(class)
			vm.stack[vm.sp-argc-1] = instance.ToValue()
			if init, ok := class.Methods["init"]; ok {
				return vm.call(init, argc)
			}
			if argc != 0 {
				return vm.runtimeError("expected 0 arguments but got %d", argc)
			}
			return nil

		case KindNative:
			native := asNative(callee.object())
			if argc != native.Arity {
				return vm.runtimeError("expected %d arguments but got %d", native.Arity, argc)
			}
			// Natives may read the argument window but must not retain it.
			result, err := native.Fn(vm.stack[vm.sp-argc : vm.sp])
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.sp -= argc + 1
			vm.stack[vm.sp] = result
			vm.sp++
			return nil
		}
	}
	return vm.runtimeError("can only call callable values")
}

// call pushes a new frame for a closure invocation.
func (vm *VM) call(closure *ClosureObject, argc int) *RuntimeError {
	if argc != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d",
			closure.Function.Arity, argc)
	}
	if vm.frameCount >= len(vm.frames) {
		return vm.runtimeError("stack overflow")
	}
	vm.frames[vm.frameCount] = CallFrame{
		Closure: closure,
		ip:      0,
		base:    vm.sp - argc - 1,
	}
	vm.frameCount++
	return nil
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

func (vm *VM) upvalueGet(u *UpvalueObject) Value {
	if u.IsOpen() {
		return vm.stack[u.Slot]
	}
	return u.Closed
}

func (vm *VM) upvalueSet(u *UpvalueObject, v Value) {
	if u.IsOpen() {
		vm.stack[u.Slot] = v
	} else {
		u.Closed = v
	}
}

// captureUpvalue returns the open upvalue for an absolute stack slot,
// reusing an existing one so every closure capturing the same variable
// shares a single cell.
func (vm *VM) captureUpvalue(slot int) *UpvalueObject {
	// The list is ordered by ascending slot; scan from the top since
	// captures cluster near it.
	i := len(vm.openUpvalues)
	for i > 0 && vm.openUpvalues[i-1].Slot > slot {
		i--
	}
	if i > 0 && vm.openUpvalues[i-1].Slot == slot {
		return vm.openUpvalues[i-1]
	}

	created := vm.heap.NewUpvalue(slot)
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = created
	return created
}

// closeUpvalues closes every open upvalue at or above the given stack
// slot: the current stack value moves into the upvalue, which then owns
// it.
func (vm *VM) closeUpvalues(from int) {
	n := len(vm.openUpvalues)
	for n > 0 && vm.openUpvalues[n-1].Slot >= from {
		u := vm.openUpvalues[n-1]
		u.Closed = vm.stack[u.Slot]
		u.Slot = -1
		n--
	}
	vm.openUpvalues = vm.openUpvalues[:n]
}

// OpenUpvalueCount returns the number of open upvalues (used by tests).
func (vm *VM) OpenUpvalueCount() int {
	return len(vm.openUpvalues)
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// dumpStack writes the current stack contents on one line.
func (vm *VM) dumpStack(w io.Writer) {
	if vm.sp == 0 {
		fmt.Fprintln(w, "          <empty stack>")
		return
	}
	var b strings.Builder
	b.WriteString("          ")
	for i := 0; i < vm.sp; i++ {
		b.WriteString("[")
		b.WriteString(vm.stack[i].Render())
		b.WriteString("]")
	}
	fmt.Fprintln(w, b.String())
}
