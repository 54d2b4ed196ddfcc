// Briar CLI - the main entry point for running Briar programs.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/briar/compiler"
	"github.com/chazu/briar/manifest"
	"github.com/chazu/briar/vm"
)

// Exit codes follow the BSD sysexits convention.
const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var log = commonlog.GetLogger("briar.cli")

func main() {
	os.Exit(run())
}

func run() int {
	verbosity := flag.Int("v", 0, "Log verbosity (0 quiet, 1 info, 2 debug)")
	disassemble := flag.Bool("d", false, "Dump the compiled top-level chunk before execution")
	trace := flag.Bool("trace", false, "Trace execution (stack dump + instruction per step)")
	gcStress := flag.Bool("gc-stress", false, "Force a collection on every allocation")
	gcLog := flag.Bool("gc-log", false, "Log every collection cycle")
	configPath := flag.String("config", "briar.toml", "Configuration file")
	noCache := flag.Bool("no-cache", false, "Bypass the compile cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: briar [options] [path]\n\n")
		fmt.Fprintf(os.Stderr, "With no path, starts an interactive REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	cfg, err := manifest.LoadIfPresent(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "briar: %v\n", err)
		return exitUsage
	}
	if *gcStress {
		cfg.GC.Stress = true
	}
	if *gcLog {
		cfg.GC.Log = true
	}
	if *noCache {
		cfg.Cache.Enabled = false
	}

	session := uuid.NewString()
	log.Infof("session %s", session)

	interp := newInterpreter(cfg, *trace)
	defer interp.Close()

	switch flag.NArg() {
	case 0:
		return repl(interp, cfg, session)
	case 1:
		return runFile(interp, cfg, session, flag.Arg(0), *disassemble)
	default:
		flag.Usage()
		return exitUsage
	}
}

// interpreter bundles a heap and a VM with the standard natives
// registered.
type interpreter struct {
	heap *vm.Heap
	vm   *vm.VM
}

func newInterpreter(cfg *manifest.Manifest, trace bool) *interpreter {
	heap := vm.NewHeap(vm.HeapOptions{
		Stress:    cfg.GC.Stress,
		LogCycles: cfg.GC.Log,
		Threshold: cfg.GC.Threshold,
	})
	machine := vm.New(heap, vm.Options{
		StackSize:  cfg.VM.StackSize,
		FrameDepth: cfg.VM.FrameDepth,
		Trace:      trace,
	})
	vm.RegisterBuiltins(machine)
	return &interpreter{heap: heap, vm: machine}
}

func (i *interpreter) Close() {
	i.vm.Close()
}

// runFile loads, compiles (or restores from cache), and executes one
// source file.
func runFile(interp *interpreter, cfg *manifest.Manifest, session, path string, disassemble bool) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "briar: cannot read %s: %v\n", path, err)
		return exitIOError
	}

	fn, code := loadProgram(interp, cfg, session, source)
	if fn == nil {
		return code
	}

	if disassemble {
		fmt.Fprint(os.Stderr, vm.DisassembleChunk(&fn.Chunk, path))
	}

	if err := interp.vm.Run(fn); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitRuntimeError
	}
	return exitOK
}

// loadProgram produces the compiled top-level function for a source text,
// consulting the content-addressed cache when enabled. Returns a nil
// function and an exit code on failure.
func loadProgram(interp *interpreter, cfg *manifest.Manifest, session string, source []byte) (*vm.FunctionObject, int) {
	var store *vm.ContentStore
	var hash [32]byte

	if cfg.Cache.Enabled {
		var err error
		store, err = vm.OpenContentStore(cfg.Cache.Path)
		if err != nil {
			log.Errorf("%v", err)
		} else {
			defer store.Close()
			hash = vm.HashSource(source)
			if image, found, err := store.Get(hash); err != nil {
				log.Errorf("%v", err)
			} else if found {
				fn, _, err := vm.UnmarshalImage(image, interp.heap)
				if err == nil {
					return fn, exitOK
				}
				// A stale or corrupt entry falls back to compiling.
				log.Errorf("%v", err)
			}
		}
	}

	fn, errs := compiler.Compile(string(source), interp.heap)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return nil, exitCompileError
	}

	if store != nil {
		image, err := vm.MarshalImage(fn, hash, session, time.Now().Unix())
		if err != nil {
			log.Errorf("%v", err)
		} else if err := store.Put(hash, session, time.Now().Unix(), image); err != nil {
			log.Errorf("%v", err)
		}
	}
	return fn, exitOK
}
