package prog

// RefType classifies both reference annotations and instruction flow.
// It is a flag set so call/jump/computed/conditional combinations compose.
type RefType uint16

const (
	flagRead RefType = 1 << iota
	flagWrite
	flagData
	flagParam
	flagCall
	flagJump
	flagTerminal
	flagComputed
	flagConditional
	flagFall
)

const (
	// Read and Write annotate memory accesses.
	Read  = flagData | flagRead
	Write = flagData | flagWrite
	// Data is a pure data reference: a constant found to plausibly be a
	// pointer, with no observed access.
	Data = flagData
	// ParamRef annotates a pointer passed to a call.
	ParamRef = flagData | flagParam

	FallThrough       = flagFall
	UnconditionalJump = flagJump
	ConditionalJump   = flagJump | flagConditional | flagFall
	ComputedJump      = flagJump | flagComputed
	UnconditionalCall = flagCall | flagFall
	ComputedCall      = flagCall | flagComputed | flagFall
	Terminator        = flagTerminal
)

func (t RefType) IsRead() bool        { return t&flagRead != 0 }
func (t RefType) IsWrite() bool       { return t&flagWrite != 0 }
func (t RefType) IsData() bool        { return t&flagData != 0 }
func (t RefType) IsCall() bool        { return t&flagCall != 0 }
func (t RefType) IsJump() bool        { return t&flagJump != 0 }
func (t RefType) IsTerminal() bool    { return t&flagTerminal != 0 }
func (t RefType) IsComputed() bool    { return t&flagComputed != 0 }
func (t RefType) IsConditional() bool { return t&flagConditional != 0 }
func (t RefType) IsFlow() bool        { return t&(flagCall|flagJump|flagTerminal) != 0 }
func (t RefType) HasFallthrough() bool {
	return t&flagFall != 0 || t&(flagCall|flagJump|flagTerminal) == 0
}

func (t RefType) String() string {
	switch t {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Data:
		return "DATA"
	case ParamRef:
		return "PARAM"
	case FallThrough:
		return "FALL_THROUGH"
	case UnconditionalJump:
		return "UNCONDITIONAL_JUMP"
	case ConditionalJump:
		return "CONDITIONAL_JUMP"
	case ComputedJump:
		return "COMPUTED_JUMP"
	case UnconditionalCall:
		return "UNCONDITIONAL_CALL"
	case ComputedCall:
		return "COMPUTED_CALL"
	case Terminator:
		return "TERMINATOR"
	}
	return "REF"
}
