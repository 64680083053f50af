package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/lilis-lang/lilis/session"
)

const (
	historyFile = ".lilis_history"
	promptMain  = "lilis> "
	promptCont  = "...... "
)

func runREPL(s *session.Session) int {
	fmt.Println("lilis REPL (type :quit to exit, :help for commands)")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		input, ok := readInput(ln, s)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if quit := handleCommand(s, trimmed); quit {
				return 0
			}
			continue
		}

		v, err := s.Eval(input)
		if err != nil {
			s.Report(os.Stderr, err)
			continue
		}
		fmt.Println(s.Engine().Format(v))
	}
}

// readInput prompts until the accumulated lines hold only whole forms.
func readInput(ln *liner.State, s *session.Session) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if b.Len() == len(line) && strings.HasPrefix(strings.TrimSpace(line), ":") {
			return line, true
		}
		if s.Complete(b.String()) {
			return b.String(), true
		}
	}
}

// handleCommand runs a REPL meta-command and reports whether to exit.
func handleCommand(s *session.Session, cmd string) bool {
	switch cmd {
	case ":quit", ":q":
		return true
	case ":gc":
		s.Engine().Collect()
		st := s.Engine().Heap().Stats()
		fmt.Printf("collections %d, expansions %d, used %d of %d bytes, objects %d, destructed %d\n",
			st.Collections, st.Expansions, st.Used, st.Capacity, st.Objects, st.Destructed)
	case ":debug":
		on := !s.Engine().Heap().Debug
		s.Engine().SetDebug(on)
		if on {
			fmt.Println("Collecting before every allocation")
		} else {
			fmt.Println("Collecting on demand")
		}
	case ":help", ":h", ":?":
		fmt.Println("REPL Commands:")
		fmt.Println("  :help, :h, :?     Show this help")
		fmt.Println("  :gc               Collect garbage and show heap statistics")
		fmt.Println("  :debug            Toggle collection before every allocation")
		fmt.Println("  :quit, :q         Exit REPL")
	default:
		fmt.Printf("Unknown command %s. Type :help for commands.\n", cmd)
	}
	return false
}
