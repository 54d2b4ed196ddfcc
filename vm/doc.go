// Package vm implements the Briar virtual machine: NaN-boxed values, the
// heap and its tracing mark-and-sweep collector, bytecode chunks and their
// disassembly, the dispatch loop with call frames and upvalues, host
// native functions, compiled-image serialization, and the
// content-addressed compile cache.
//
// The package never parses source; the compiler package produces
// *FunctionObject values that VM.Run executes. Raw pointer manipulation
// for NaN-boxed object references is confined to this package behind a
// safe API.
package vm
