package vm_test

import (
	"io"
	"testing"

	"github.com/chazu/briar/compiler"
	"github.com/chazu/briar/vm"
)

func benchProgram(b *testing.B, source string) (*vm.VM, *vm.FunctionObject) {
	b.Helper()
	heap := vm.NewHeap(vm.HeapOptions{})
	machine := vm.New(heap, vm.Options{Stdout: io.Discard})
	vm.RegisterBuiltins(machine)
	fn, errs := compiler.Compile(source, heap)
	if len(errs) > 0 {
		b.Fatalf("compile errors: %v", errs)
	}
	return machine, fn
}

func BenchmarkFib(b *testing.B) {
	machine, fn := benchProgram(b,
		`fun fib(n){ if (n < 2) return n; return fib(n-1)+fib(n-2); } fib(15);`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := machine.Run(fn); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMethodDispatch(b *testing.B) {
	machine, fn := benchProgram(b, `
		class Counter {
			init(){ this.n = 0; }
			bump(){ this.n = this.n + 1; }
		}
		var c = Counter();
		for (var i = 0; i < 1000; i = i + 1) c.bump();`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := machine.Run(fn); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStringChurn(b *testing.B) {
	machine, fn := benchProgram(b, `
		var s = "";
		for (var i = 0; i < 100; i = i + 1) s = s + "x";`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := machine.Run(fn); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompile(b *testing.B) {
	source := `
		fun fib(n){ if (n < 2) return n; return fib(n-1)+fib(n-2); }
		class Tally { init(){ this.total = 0; } add(n){ this.total = this.total + n; } }
		var t = Tally();
		t.add(fib(10));`
	heap := vm.NewHeap(vm.HeapOptions{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, errs := compiler.Compile(source, heap); errs != nil {
			b.Fatalf("compile errors: %v", errs)
		}
	}
}
