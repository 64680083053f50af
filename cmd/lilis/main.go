// lilis runs Lisp programs and hosts an interactive REPL
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/lilis-lang/lilis/codec"
	"github.com/lilis-lang/lilis/config"
	"github.com/lilis-lang/lilis/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("lilis", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "Collect garbage before every allocation")
	verbose := fs.Bool("verbose", false, "Log collections and module loading")
	configPath := fs.String("config", "", "Path to lilis.toml (default: search upward from the current directory)")
	heap := fs.Int("heap", 0, "Initial half-heap capacity in bytes")
	dumpCode := fs.String("dump-code", "", "Write the compiled listing of the file to this path as CBOR (- prints it as text)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lilis [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs file, or starts a REPL when no file is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lilis                            # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  lilis main.lisp                  # Run main.lisp\n")
		fmt.Fprintf(os.Stderr, "  lilis -debug main.lisp           # Run with a collection before every allocation\n")
		fmt.Fprintf(os.Stderr, "  lilis -dump-code out.cbor f.lisp # Compile f.lisp and write its listing\n")
		fmt.Fprintf(os.Stderr, "  lilis -dump-code - f.lisp        # Compile f.lisp and print its listing\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *debug {
		cfg.Engine.Debug = true
	}
	if *verbose {
		cfg.Engine.Verbose = true
	}
	if *heap > 0 {
		cfg.Engine.Heap = *heap
	}

	verbosity := 0
	if cfg.Engine.Verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	s := session.New(cfg, os.Stdout)
	defer s.Close()

	if fs.NArg() == 0 {
		return runREPL(s)
	}
	path := fs.Arg(0)
	if *dumpCode != "" {
		if err := writeListing(s, path, *dumpCode, os.Stdout); err != nil {
			s.Report(os.Stderr, err)
			return 1
		}
		return 0
	}
	if _, err := s.RunFile(path); err != nil {
		s.Report(os.Stderr, err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

// writeListing compiles the file at path without running it and writes the
// CBOR listing of its top-level unit to out, or the text listing to stdout
// when out is "-".
func writeListing(s *session.Session, path, out string, stdout io.Writer) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	code, err := s.Compile(path, string(src))
	if err != nil {
		return err
	}
	defer code.Release()
	if out == "-" {
		l, err := codec.Build(s.Engine(), code.Get())
		if err != nil {
			return err
		}
		l.Write(stdout)
		return nil
	}
	data, err := codec.EncodeCode(s.Engine(), code.Get())
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", out, err)
	}
	return nil
}
