package vm

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Built-in native functions
// ---------------------------------------------------------------------------

// RegisterBuiltins installs the standard host functions on a VM:
//
//	clock()        seconds elapsed since registration, as a number
//	sleep(seconds) blocks the interpreter, returns nil
func RegisterBuiltins(vm *VM) {
	start := time.Now()

	vm.DefineNative("clock", 0, func(args []Value) (Value, error) {
		return FromNumber(time.Since(start).Seconds()), nil
	})

	vm.DefineNative("sleep", 1, func(args []Value) (Value, error) {
		if !args[0].IsNumber() {
			return Nil, fmt.Errorf("sleep: argument must be a number")
		}
		seconds := args[0].Number()
		if seconds < 0 {
			return Nil, fmt.Errorf("sleep: argument must be non-negative")
		}
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return Nil, nil
	})
}
