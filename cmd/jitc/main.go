// Command jitc compiles YAML IR modules to native code and optionally runs
// them against the host runtime.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/tinyrange/jit/internal/config"
	"github.com/tinyrange/jit/internal/disasm"
	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/isel"
	_ "github.com/tinyrange/jit/internal/isel/amd64"
	_ "github.com/tinyrange/jit/internal/isel/arm64"
	jitrt "github.com/tinyrange/jit/internal/runtime"
	"github.com/tinyrange/jit/internal/runtime/host"
	"github.com/tinyrange/jit/internal/timeslice"
	"github.com/tinyrange/jit/internal/value"
)

var timesliceLoadModule = timeslice.RegisterKind("jitc.load_module", timeslice.SliceFlagCompile)

// placeholderBase is where inspection-only builds pretend the runtime lives.
const placeholderBase = 0x7f0000000000

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "jitc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Settings file (YAML)")
	arch := flag.String("arch", "", "Target architecture (amd64, arm64; default from config or host)")
	policy := flag.String("policy", "", "Value policy (register, double)")
	showCode := flag.Bool("show-code", false, "Print the disassembly of every function")
	syntax := flag.String("syntax", string(disasm.SyntaxGNU), "x86-64 disassembly syntax (gnu, intel)")
	color := flag.String("color", "", "Color diagnostics (auto, always, never)")
	rawDir := flag.String("raw", "", "Write each function's code to <dir>/<name>.bin")
	runName := flag.String("run", "", "Run the named function on this host after compiling")
	debug := flag.Bool("debug", false, "Enable debug logging")
	timings := flag.String("timings", "", "Record phase timings to this file and print a summary")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <module.yaml>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile IR modules to native code.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -show-code examples/arith.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -arch arm64 -policy double examples/loop.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -run main examples/loop.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return fmt.Errorf("module file required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *arch != "" {
		cfg.Arch = *arch
	}
	if *policy != "" {
		cfg.ValuePolicy = *policy
	}
	if *showCode {
		cfg.ShowCode = true
	}
	if *color != "" {
		cfg.Color = config.Color(*color)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	listingSyntax, err := disasm.ParseSyntax(*syntax)
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	target, _ := cfg.Architecture()
	valuePolicy, _ := cfg.Policy()

	if *runName != "" && target != isel.ArchitectureNative {
		return fmt.Errorf("cannot run %s code on this host", target)
	}

	var (
		rt    *host.Runtime
		table *jitrt.Table
	)
	if *runName != "" {
		rt, table, err = host.Default()
		if err != nil {
			return fmt.Errorf("bind host runtime: %w", err)
		}
	} else {
		rt = host.New(nil, logger)
		table = jitrt.PlaceholderTable(placeholderBase)
	}

	display := displayOptions(cfg.Color, listingSyntax, table)

	if *timings != "" {
		stop, err := startTimings(*timings)
		if err != nil {
			return err
		}
		defer func() {
			if err := stop(); err != nil {
				slog.Warn("timings", "error", err)
			}
		}()
	}

	for _, path := range flag.Args() {
		rec := timeslice.NewRecorder()
		mod, err := ir.LoadModule(path)
		if err != nil {
			return err
		}
		rec.Record(timesliceLoadModule)
		compiled, err := isel.CompileModule(mod, isel.Options{
			Arch:    target,
			Policy:  valuePolicy,
			Runtime: table,
			Engine:  rt.Heap(),
			Load:    *runName != "",
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		if err := report(os.Stdout, path, compiled, cfg.ShowCode, display); err != nil {
			compiled.Release()
			return err
		}
		if *rawDir != "" {
			if err := writeRaw(*rawDir, compiled); err != nil {
				compiled.Release()
				return err
			}
		}
		if *runName != "" {
			err = runFunction(os.Stdout, rt, mod, compiled, *runName)
		}
		if relErr := compiled.Release(); err == nil {
			err = relErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// displayOptions colors and clips output only when stdout is a terminal,
// unless the color mode says otherwise.
func displayOptions(mode config.Color, syntax disasm.Syntax, table *jitrt.Table) disasm.Options {
	opts := disasm.Options{Syntax: syntax, Symbols: table.Symbols()}
	fd := int(os.Stdout.Fd())
	tty := term.IsTerminal(fd)
	switch mode {
	case config.ColorAlways:
		opts.Color = true
	case config.ColorAuto:
		opts.Color = tty
	}
	if tty {
		if width, _, err := term.GetSize(fd); err == nil {
			opts.Width = width
		}
	}
	return opts
}

func report(w io.Writer, path string, m *isel.Module, showCode bool, opts disasm.Options) error {
	fmt.Fprintf(w, "%s:\n", path)
	for _, c := range m.Code {
		fmt.Fprintf(w, "  %-20s %-7s %-8s %5d bytes  %2d blocks  %3d calls  frame %d\n",
			c.Name, c.Arch, c.Policy, c.Program.Len(), c.Blocks, c.Calls, c.FrameSize)
		if len(c.GeneratedValues) > 0 {
			fmt.Fprintf(w, "  %-20s %d generated values\n", "", len(c.GeneratedValues))
		}
		if !showCode {
			continue
		}
		text, err := disasm.Text(string(c.Arch), c.Program, opts)
		if err != nil {
			return fmt.Errorf("disassemble %s: %w", c.Name, err)
		}
		fmt.Fprint(w, text)
	}
	return nil
}

// startTimings opens a recording in path. The returned function closes it
// and prints per phase totals to standard error.
func startTimings(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create timings file: %w", err)
	}
	w, err := timeslice.Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func() error {
		if err := w.Close(); err != nil {
			f.Close()
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return err
		}
		totals, err := timeslice.Summarize(f)
		f.Close()
		if err != nil {
			return err
		}
		for _, t := range totals {
			fmt.Fprintf(os.Stderr, "%-20s %-8s %6d  %v\n", t.Name, t.Flags, t.Count, t.Duration)
		}
		return nil
	}, nil
}

func writeRaw(dir string, m *isel.Module) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create raw output directory: %w", err)
	}
	for _, c := range m.Code {
		name := strings.ReplaceAll(c.Name, string(filepath.Separator), "_") + ".bin"
		if err := os.WriteFile(filepath.Join(dir, name), c.Program.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// runFunction calls name with undefined arguments. Every top level
// function of mod is published as a global first so functions can call
// each other by name.
func runFunction(w io.Writer, rt *host.Runtime, mod *ir.Module, compiled *isel.Module, name string) error {
	fn := mod.Function(name)
	if fn == nil {
		return fmt.Errorf("no function %q", name)
	}
	rt.SetInvoker(compiled)
	for _, f := range mod.Functions {
		rt.DefineFunction(f)
	}

	args := make([]value.Value, len(fn.Formals))
	for i := range args {
		args[i] = value.Undefined()
	}
	ctx := jitrt.NewExecutionContext(nil, value.Undefined(), args, len(fn.Locals))
	result, err := compiled.Invoke(fn, ctx)
	if err != nil {
		return err
	}
	if ctx.Throwing {
		return fmt.Errorf("uncaught exception: %s", rt.ToString(ctx.Exception))
	}
	fmt.Fprintf(w, "%s() = %s\n", name, rt.ToString(result))
	return nil
}
