package propagate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params are the tunable policy bounds of a pass. The defaults are the
// values tuned against large binary corpora; they are exposed because
// the right bounds are platform dependent.
type Params struct {
	// MaxSameInstruction bounds a run of byte-identical instructions
	// before the branch is abandoned as padding.
	MaxSameInstruction int `yaml:"max_same_instruction"`
	// MaxExtraFlow bounds how many instructions a flow keeps walking
	// after re-entering already visited code.
	MaxExtraFlow int `yaml:"max_extra_flow"`
	// CacheSize bounds each per-engine lookup cache.
	CacheSize int `yaml:"cache_size"`
	// SmallOffsetMax is the largest signed offset still considered an
	// incidental small integer rather than a reference candidate.
	SmallOffsetMax int64 `yaml:"small_offset_max"`
	// PointerMinBounds rejects speculative offsets this close to 0 or
	// to the space wrap-around.
	PointerMinBounds uint64 `yaml:"pointer_min_bounds"`

	// Reference discovery toggles.
	ParamRefs        bool `yaml:"param_refs"`
	ParamPointerRefs bool `yaml:"param_pointer_refs"`
	ReturnRefs       bool `yaml:"return_refs"`
	StoredRefs       bool `yaml:"stored_refs"`

	// RecordState keeps queryable per-instruction start/end values.
	RecordState bool `yaml:"record_state"`
}

// DefaultParams returns the standard policy bounds.
func DefaultParams() Params {
	return Params{
		MaxSameInstruction: 100,
		MaxExtraFlow:       16,
		CacheSize:          4096,
		SmallOffsetMax:     4,
		PointerMinBounds:   0x100,
		ParamRefs:          true,
		ParamPointerRefs:   false,
		ReturnRefs:         true,
		StoredRefs:         true,
	}
}

// LoadParams reads a yaml params file over the defaults. Absent keys
// keep their default values.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading params: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parsing params %s: %w", path, err)
	}
	if p.MaxSameInstruction < 1 || p.MaxExtraFlow < 0 || p.CacheSize < 1 {
		return p, fmt.Errorf("params %s: bounds must be positive", path)
	}
	return p, nil
}
