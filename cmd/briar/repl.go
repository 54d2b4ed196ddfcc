package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/chazu/briar/compiler"
	"github.com/chazu/briar/manifest"
)

// repl runs the interactive line-oriented session. Each line is
// interpreted as a complete program against persistent VM state, so
// globals defined on one line are visible on the next.
func repl(interp *interpreter, cfg *manifest.Manifest, session string) int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "briar> ",
		HistoryFile: cfg.REPL.History,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "briar: cannot start REPL: %v\n", err)
		return exitIOError
	}
	defer rl.Close()

	fmt.Printf("briar (session %s)\n", session)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return exitOK
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "briar: %v\n", err)
			return exitIOError
		}

		// An empty line is a no-op.
		if line == "" {
			continue
		}

		interpretLine(interp, line)
	}
}

// interpretLine compiles and runs one REPL line. Errors print in red and
// the session continues.
func interpretLine(interp *interpreter, line string) {
	fn, errs := compiler.Compile(line, interp.heap)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, color.RedString(e.Error()))
		}
		return
	}
	if err := interp.vm.Run(fn); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
	}
}
