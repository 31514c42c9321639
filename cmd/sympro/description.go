package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
)

// HexAddr parses yaml scalars like 0x401000.
type HexAddr uint64

func (h *HexAddr) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		v, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("bad address %q: %w", node.Value, err)
		}
	}
	*h = HexAddr(v)
	return nil
}

// Description declares what the flat binary alone cannot: functions,
// symbols and extra data ranges.
type Description struct {
	Functions []FunctionDesc `yaml:"functions"`
	Symbols   []SymbolDesc   `yaml:"symbols"`
	Data      []DataDesc     `yaml:"data"`
}

type FunctionDesc struct {
	Name     string  `yaml:"name"`
	Entry    HexAddr `yaml:"entry"`
	Purge    *int    `yaml:"purge"`
	NoReturn bool    `yaml:"noreturn"`
	Inline   bool    `yaml:"inline"`
}

type SymbolDesc struct {
	Addr HexAddr `yaml:"addr"`
	Name string  `yaml:"name"`
}

type DataDesc struct {
	Base HexAddr `yaml:"base"`
	Size uint64  `yaml:"size"`
}

// LoadDescription reads a program description file.
func LoadDescription(path string) (*Description, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading description: %w", err)
	}
	var d Description
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing description %s: %w", path, err)
	}
	return &d, nil
}

// Apply installs the description into a program.
func (d *Description) Apply(b *prog.Builder) {
	for _, fd := range d.Functions {
		f := &prog.Function{
			Name:     fd.Name,
			Entry:    b.RAM().Addr(uint64(fd.Entry)),
			NoReturn: fd.NoReturn,
			Inline:   fd.Inline,
			Purge:    prog.UnknownPurge,
		}
		if fd.Purge != nil {
			f.Purge = *fd.Purge
		}
		b.AddFunction(f)
		if fd.Name != "" {
			b.AddSymbol(f.Entry, fd.Name)
		}
	}
	for _, sd := range d.Symbols {
		b.AddSymbol(b.RAM().Addr(uint64(sd.Addr)), sd.Name)
	}
	for _, dd := range d.Data {
		if dd.Size == 0 {
			continue
		}
		min := b.RAM().Addr(uint64(dd.Base))
		b.AddMemory(min, min.Add(int64(dd.Size)-1), false)
	}
}
