package vm

import (
	"time"
	"unsafe"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("briar.gc")

// ---------------------------------------------------------------------------
// Heap: allocation, string interning, and mark-and-sweep collection
// ---------------------------------------------------------------------------

// RootSource exposes a set of GC roots. The VM registers itself for the
// lifetime of the interpreter; a compiler registers itself while a
// compilation is in progress.
type RootSource interface {
	// MarkRoots marks every root the source holds via h.MarkValue.
	MarkRoots(h *Heap)
}

// DefaultGCThreshold is the initial number of allocated bytes that
// triggers the first collection cycle.
const DefaultGCThreshold = 1024 * 1024

// Heap owns every Briar heap object. Objects are threaded on an intrusive
// singly-linked list headed here; the list is the collector's only strong
// reference, so unlinking an object during the sweep releases it.
//
// The heap also owns the string interner. The interner holds weak
// references: its entries do not count as roots and are pruned before each
// sweep, so a string survives a cycle only if something else reaches it.
type Heap struct {
	head        *header
	interner    map[string]*StringObject
	greyStack   []*header
	roots       []RootSource
	retained    map[*header]int
	objectCount int

	bytesAllocated int
	nextGC         int

	// stress forces a collection on every allocation.
	stress bool
	// logCycles emits per-cycle debug logging.
	logCycles bool

	// Cycle statistics, updated after every collection.
	cycles       uint64
	lastFreed    int
	lastDuration time.Duration
}

// HeapOptions configures a new heap.
type HeapOptions struct {
	// Stress forces a collection on every allocation.
	Stress bool
	// LogCycles enables per-cycle debug logging.
	LogCycles bool
	// Threshold is the initial GC trigger in bytes; 0 means
	// DefaultGCThreshold.
	Threshold int
}

// NewHeap creates an empty heap.
func NewHeap(opts HeapOptions) *Heap {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultGCThreshold
	}
	return &Heap{
		interner:  make(map[string]*StringObject),
		retained:  make(map[*header]int),
		nextGC:    threshold,
		stress:    opts.Stress,
		logCycles: opts.LogCycles,
	}
}

// AddRootSource registers a source of GC roots.
func (h *Heap) AddRootSource(src RootSource) {
	h.roots = append(h.roots, src)
}

// RemoveRootSource unregisters a previously added root source.
func (h *Heap) RemoveRootSource(src RootSource) {
	for i, s := range h.roots {
		if s == src {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Retain pins an object value so it survives collection while not yet
// reachable from any other root. Calls nest; each Retain needs a matching
// Release.
func (h *Heap) Retain(v Value) {
	if v.IsObject() {
		h.retained[v.object()]++
	}
}

// Release removes one pin added by Retain.
func (h *Heap) Release(v Value) {
	if !v.IsObject() {
		return
	}
	obj := v.object()
	if n := h.retained[obj]; n <= 1 {
		delete(h.retained, obj)
	} else {
		h.retained[obj] = n - 1
	}
}

// BytesAllocated returns the number of accounted live bytes.
func (h *Heap) BytesAllocated() int {
	return h.bytesAllocated
}

// ObjectCount returns the number of live objects on the heap list.
func (h *Heap) ObjectCount() int {
	return h.objectCount
}

// Cycles returns the number of completed collection cycles.
func (h *Heap) Cycles() uint64 {
	return h.cycles
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// track runs the allocation-time GC check, then links a freshly created
// object into the heap list and charges its size. The check runs before
// the object is linked, so a triggered cycle can never reclaim it.
func (h *Heap) track(obj *header, kind Kind, size int) {
	h.maybeCollect()
	obj.kind = kind
	obj.size = size
	obj.next = h.head
	h.head = obj
	h.objectCount++
	h.bytesAllocated += size
}

func (h *Heap) maybeCollect() {
	if h.stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
}

// InternString returns the canonical string object for s, allocating it on
// first use. Byte-equal strings always yield the same object, so string
// equality reduces to pointer identity.
func (h *Heap) InternString(s string) *StringObject {
	if obj, ok := h.interner[s]; ok {
		return obj
	}
	obj := &StringObject{S: s}
	h.track(&obj.header, KindString, int(unsafe.Sizeof(StringObject{}))+len(s))
	h.interner[s] = obj
	return obj
}

// NewFunction allocates an empty function shell; the compiler fills in its
// chunk while the function is reachable through the compiler's root hook.
func (h *Heap) NewFunction(name string, arity int) *FunctionObject {
	obj := &FunctionObject{Name: name, Arity: arity}
	h.track(&obj.header, KindFunction, int(unsafe.Sizeof(FunctionObject{}))+len(name))
	return obj
}

// NewClosure allocates a closure over fn with an upvalue list sized to the
// function's descriptor count. The entries are filled by the CLOSURE
// handler while the closure sits on the value stack.
func (h *Heap) NewClosure(fn *FunctionObject) *ClosureObject {
	upvalues := make([]*UpvalueObject, len(fn.Upvalues))
	obj := &ClosureObject{Function: fn, Upvalues: upvalues}
	h.track(&obj.header, KindClosure,
		int(unsafe.Sizeof(ClosureObject{}))+len(upvalues)*int(unsafe.Sizeof(uintptr(0))))
	return obj
}

// NewUpvalue allocates an open upvalue addressing the given absolute value
// stack slot.
func (h *Heap) NewUpvalue(slot int) *UpvalueObject {
	obj := &UpvalueObject{Slot: slot, Closed: Nil}
	h.track(&obj.header, KindUpvalue, int(unsafe.Sizeof(UpvalueObject{})))
	return obj
}

// NewNative allocates a host function object.
func (h *Heap) NewNative(name string, arity int, fn NativeFn) *NativeObject {
	obj := &NativeObject{Name: name, Arity: arity, Fn: fn}
	h.track(&obj.header, KindNative, int(unsafe.Sizeof(NativeObject{}))+len(name))
	return obj
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *StringObject) *ClassObject {
	obj := &ClassObject{Name: name, Methods: make(map[string]*ClosureObject)}
	h.track(&obj.header, KindClass, int(unsafe.Sizeof(ClassObject{})))
	return obj
}

// NewInstance allocates an instance of class with an empty field table.
func (h *Heap) NewInstance(class *ClassObject) *InstanceObject {
	obj := &InstanceObject{Class: class, Fields: make(map[string]Value)}
	h.track(&obj.header, KindInstance, int(unsafe.Sizeof(InstanceObject{})))
	return obj
}

// NewBoundMethod allocates a bound method pairing receiver and method.
func (h *Heap) NewBoundMethod(receiver *InstanceObject, method *ClosureObject) *BoundMethodObject {
	obj := &BoundMethodObject{Receiver: receiver, Method: method}
	h.track(&obj.header, KindBoundMethod, int(unsafe.Sizeof(BoundMethodObject{})))
	return obj
}

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// MarkValue marks the object referenced by v, if any, as grey.
func (h *Heap) MarkValue(v Value) {
	if v.IsObject() {
		h.markObject(v.object())
	}
}

// markObject turns a white object grey: sets its mark bit and queues it
// for tracing. Marked objects are skipped, which is what terminates cycles
// in the object graph.
func (h *Heap) markObject(obj *header) {
	if obj == nil || obj.marked {
		return
	}
	obj.marked = true
	h.greyStack = append(h.greyStack, obj)
}

// blacken traces the direct references of a grey object.
func (h *Heap) blacken(obj *header) {
	switch obj.kind {
	case KindString, KindNative:
		// No outgoing references.

	case KindFunction:
		fn := asFunction(obj)
		for _, constant := range fn.Chunk.Constants {
			h.MarkValue(constant)
		}

	case KindUpvalue:
		// An open upvalue's slot lives on the value stack, which is a root
		// already; only the closed value needs tracing.
		h.MarkValue(asUpvalue(obj).Closed)

	case KindClosure:
		cl := asClosure(obj)
		h.markObject(&cl.Function.header)
		for _, upvalue := range cl.Upvalues {
			if upvalue != nil {
				h.markObject(&upvalue.header)
			}
		}

	case KindClass:
		class := asClass(obj)
		h.markObject(&class.Name.header)
		for _, method := range class.Methods {
			h.markObject(&method.header)
		}

	case KindInstance:
		instance := asInstance(obj)
		h.markObject(&instance.Class.header)
		for _, field := range instance.Fields {
			h.MarkValue(field)
		}

	case KindBoundMethod:
		bm := asBoundMethod(obj)
		h.markObject(&bm.Receiver.header)
		h.markObject(&bm.Method.header)

	default:
		panic("Heap.blacken: unknown object kind")
	}
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collect runs one full mark-and-sweep cycle.
func (h *Heap) Collect() {
	start := time.Now()

	// Mark roots grey.
	for _, src := range h.roots {
		src.MarkRoots(h)
	}
	for obj := range h.retained {
		h.markObject(obj)
	}

	// Propagate: drain the grey stack, blackening as we go. An object that
	// is marked and on the stack is grey; marked and off the stack, black.
	for len(h.greyStack) > 0 {
		obj := h.greyStack[len(h.greyStack)-1]
		h.greyStack = h.greyStack[:len(h.greyStack)-1]
		h.blacken(obj)
	}

	// The interner holds weak references: drop entries whose strings are
	// about to be swept so no dangling interned pointer survives.
	for key, str := range h.interner {
		if !str.marked {
			delete(h.interner, key)
		}
	}

	// Sweep: unlink white objects and clear marks on the survivors.
	freedObjects := 0
	freedBytes := 0
	var prev *header
	obj := h.head
	for obj != nil {
		next := obj.next
		if obj.marked {
			obj.marked = false
			prev = obj
		} else {
			if prev != nil {
				prev.next = next
			} else {
				h.head = next
			}
			obj.next = nil
			h.bytesAllocated -= obj.size
			h.objectCount--
			freedObjects++
			freedBytes += obj.size
		}
		obj = next
	}

	h.nextGC = h.bytesAllocated * 2
	if h.nextGC < DefaultGCThreshold {
		h.nextGC = DefaultGCThreshold
	}

	h.cycles++
	h.lastFreed = freedBytes
	h.lastDuration = time.Since(start)

	if h.logCycles {
		gcLog.Debugf("cycle %d: freed %d objects (%d bytes), %d bytes live, next at %d, took %s",
			h.cycles, freedObjects, freedBytes, h.bytesAllocated, h.nextGC, h.lastDuration)
	}
}
