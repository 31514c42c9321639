// sympro runs the symbolic propagation pass over a flat binary and
// reports the references it discovers.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/X-EcutiOnner/Ghidra/analysis/lift"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/propagate"
)

var opts struct {
	base	string
	entry	string
	desc	string
	params	string
	dotOut	string
	record	bool
	verbose	bool
	timeout	time.Duration
}

func main() {
	root := &cobra.Command{
		Use:          "sympro <binary>",
		Short:        "flow-sensitive symbolic value propagation over machine code",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	fl := root.Flags()
	fl.StringVar(&opts.base, "base", "0x400000", "load address of the binary")
	fl.StringVar(&opts.entry, "entry", "", "entry point (defaults to the load address)")
	fl.StringVar(&opts.desc, "desc", "", "yaml program description (functions, symbols, data)")
	fl.StringVar(&opts.params, "params", "", "yaml engine params")
	fl.StringVar(&opts.dotOut, "dot", "", "write the discovered flow graph as dot text")
	fl.BoolVar(&opts.record, "record", false, "record per-instruction register state")
	fl.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	fl.DurationVar(&opts.timeout, "timeout", 0, "abort the pass after this long")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64); err == nil {
		return v, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func run(binPath string) error {
	log := logrus.New()
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	code, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("reading binary: %w", err)
	}
	base, err := parseAddr(opts.base)
	if err != nil {
		return fmt.Errorf("bad base address: %w", err)
	}
	entry := base
	if opts.entry != "" {
		if entry, err = parseAddr(opts.entry); err != nil {
			return fmt.Errorf("bad entry address: %w", err)
		}
	}

	lifter := lift.NewX86()
	if err := lifter.LoadCode(base, code); err != nil {
		return err
	}
	program := lifter.Program()
	if opts.desc != "" {
		d, err := LoadDescription(opts.desc)
		if err != nil {
			return err
		}
		d.Apply(program)
	}

	params := propagate.DefaultParams()
	if opts.params != "" {
		if params, err = propagate.LoadParams(opts.params); err != nil {
			return err
		}
	}
	params.RecordState = params.RecordState || opts.record

	engine, err := propagate.New(program, params)
	if err != nil {
		return err
	}
	engine.SetLogger(log)

	ctx := context.Background()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	visited, err := engine.FlowConstants(ctx, program.RAM().Addr(entry), nil, nil)
	if err != nil {
		log.WithError(err).Warn("pass ended early")
	}

	printReport(program, visited.NumAddresses(), engine)

	if opts.dotOut != "" {
		f, err := os.Create(opts.dotOut)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := engine.WriteFlowGraph(f, binPath); err != nil {
			return err
		}
	}
	return nil
}

func printReport(b *prog.Builder, covered uint64, engine *propagate.Engine) {
	bold := color.New(color.Bold)
	bold.Printf("covered %d bytes\n", covered)
	if engine.EncounteredBranch() {
		fmt.Println("encountered non-trivial control flow")
	}
	if engine.ReadExecutable() {
		color.Yellow("executable memory read as data (self-modifying code?)")
	}

	refs := b.References()
	bold.Printf("%d references\n", len(refs))
	for _, r := range refs {
		c := color.New(color.FgGreen)
		switch {
		case r.Type.IsFlow():
			c = color.New(color.FgBlue)
		case r.Type.IsWrite():
			c = color.New(color.FgRed)
		}
		loc := "mnemonic"
		if r.OpIndex != prog.MnemonicIndex {
			loc = fmt.Sprintf("operand %d", r.OpIndex)
		}
		fmt.Printf("  %s -> %s  %s  (%s)\n",
			r.From, r.To, c.Sprint(r.Type.String()), loc)
	}
}
