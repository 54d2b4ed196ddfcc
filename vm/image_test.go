package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/briar/compiler"
	"github.com/chazu/briar/vm"
)

const imageTestProgram = `
fun fib(n){ if (n < 2) return n; return fib(n-1)+fib(n-2); }
class Tally {
	init(){ this.total = 0; }
	add(n){ this.total = this.total + n; return this.total; }
}
var t = Tally();
t.add(fib(10));
print t.add(5);
print "label: " + "done";`

func compileProgram(t *testing.T, heap *vm.Heap, source string) *vm.FunctionObject {
	t.Helper()
	fn, errs := compiler.Compile(source, heap)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	return fn
}

func runFunction(t *testing.T, heap *vm.Heap, fn *vm.FunctionObject) string {
	t.Helper()
	var out bytes.Buffer
	machine := vm.New(heap, vm.Options{Stdout: &out})
	defer machine.Close()
	if err := machine.Run(fn); err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	return out.String()
}

func TestImageRoundTripExecutesIdentically(t *testing.T) {
	heap := vm.NewHeap(vm.HeapOptions{})
	fn := compileProgram(t, heap, imageTestProgram)
	want := runFunction(t, heap, fn)

	hash := vm.HashSource([]byte(imageTestProgram))
	data, err := vm.MarshalImage(fn, hash, "test-session", 1700000000)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Decode into a fresh heap, as a later process would.
	heap2 := vm.NewHeap(vm.HeapOptions{})
	decoded, img, err := vm.UnmarshalImage(data, heap2)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if img.SourceHash != hash {
		t.Error("source hash not preserved")
	}
	if img.Session != "test-session" {
		t.Errorf("session = %q", img.Session)
	}

	if got := runFunction(t, heap2, decoded); got != want {
		t.Errorf("decoded output = %q, want %q", got, want)
	}
}

func TestImagePreservesStructure(t *testing.T) {
	heap := vm.NewHeap(vm.HeapOptions{})
	fn := compileProgram(t, heap, imageTestProgram)

	data, err := vm.MarshalImage(fn, vm.HashSource([]byte(imageTestProgram)), "s", 0)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, _, err := vm.UnmarshalImage(data, vm.NewHeap(vm.HeapOptions{}))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !bytes.Equal(decoded.Chunk.Code, fn.Chunk.Code) {
		t.Error("code bytes differ")
	}
	if len(decoded.Chunk.Constants) != len(fn.Chunk.Constants) {
		t.Fatalf("constant count %d, want %d",
			len(decoded.Chunk.Constants), len(fn.Chunk.Constants))
	}
	if len(decoded.Chunk.Lines) != len(fn.Chunk.Lines) {
		t.Fatalf("line run count %d, want %d",
			len(decoded.Chunk.Lines), len(fn.Chunk.Lines))
	}
	for i, run := range fn.Chunk.Lines {
		if decoded.Chunk.Lines[i] != run {
			t.Errorf("line run %d = %v, want %v", i, decoded.Chunk.Lines[i], run)
		}
	}
	if decoded.Name != fn.Name || decoded.Arity != fn.Arity {
		t.Error("function identity differs")
	}
}

func TestImageCanonicalEncoding(t *testing.T) {
	heap := vm.NewHeap(vm.HeapOptions{})
	fn := compileProgram(t, heap, `print 1 + 2;`)
	hash := vm.HashSource([]byte(`print 1 + 2;`))

	first, err := vm.MarshalImage(fn, hash, "s", 42)
	if err != nil {
		t.Fatal(err)
	}
	second, err := vm.MarshalImage(fn, hash, "s", 42)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("canonical encoding must be deterministic")
	}
}

func TestImageRejectsGarbage(t *testing.T) {
	_, _, err := vm.UnmarshalImage([]byte("not an image"), vm.NewHeap(vm.HeapOptions{}))
	if err == nil {
		t.Fatal("expected a decode error")
	}
	if !strings.Contains(err.Error(), "image:") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestImageDecodeUnderGCStress(t *testing.T) {
	heap := vm.NewHeap(vm.HeapOptions{})
	fn := compileProgram(t, heap, imageTestProgram)
	data, err := vm.MarshalImage(fn, vm.HashSource([]byte(imageTestProgram)), "s", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Decoding allocates through the heap; every allocation collects.
	stressed := vm.NewHeap(vm.HeapOptions{Stress: true})
	decoded, _, err := vm.UnmarshalImage(data, stressed)
	if err != nil {
		t.Fatalf("unmarshal under stress: %v", err)
	}
	want := runFunction(t, heap, fn)
	if got := runFunction(t, stressed, decoded); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
