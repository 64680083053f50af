package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the first word of an instruction. Operands follow as whole
// words in the Code's instruction slice.
type Opcode int

const (
	OpPop                   Opcode = iota // discard top of stack
	OpPush                                // push literal (literal index)
	OpGet                                 // push local (depth, slot)
	OpSet                                 // store top into local (depth, slot), keep it
	OpCall                                // call (argc)
	OpCallWithExpansion                   // call, spreading the last argument (argc)
	OpCallTail                            // tail call (argc)
	OpCallTailWithExpansion               // tail call, spreading the last argument (argc)
	OpReturn                              // return top of stack
	OpLambda                              // push closure over current scope (code literal index)
	OpLambdaWithRest                      // same, rest-parameter code (code literal index)
	OpJump                                // jump (absolute target)
	OpBranch                              // pop, jump if Nil (absolute target)
	OpEnd                                 // end of a run
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of operand words
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpPop:                   {"POP", 0},
	OpPush:                  {"PUSH", 1},
	OpGet:                   {"GET", 2},
	OpSet:                   {"SET", 2},
	OpCall:                  {"CALL", 1},
	OpCallWithExpansion:     {"CALL_WITH_EXPANSION", 1},
	OpCallTail:              {"CALL_TAIL", 1},
	OpCallTailWithExpansion: {"CALL_TAIL_WITH_EXPANSION", 1},
	OpReturn:                {"RETURN", 0},
	OpLambda:                {"LAMBDA", 1},
	OpLambdaWithRest:        {"LAMBDA_WITH_REST", 1},
	OpJump:                  {"JUMP", 1},
	OpBranch:                {"BRANCH", 1},
	OpEnd:                   {"END", 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", int(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Emitter: appends instructions to a Code
// ---------------------------------------------------------------------------

// emitter writes one Code's instruction stream. It tracks the operand stack
// height each instruction reaches so the Code can reserve enough stack, and
// records the first error so node emission needs no error plumbing.
type emitter struct {
	e      *Engine
	code   *Code
	labels []*Label
	err    error
}

func newEmitter(e *Engine, code *Code) *emitter {
	return &emitter{e: e, code: code}
}

// emit appends op with its operands. stack is the operand stack height
// (relative to the frame base) reached by this instruction.
func (em *emitter) emit(op Opcode, stack int, operands ...int) {
	if stack > em.code.Stack {
		em.code.Stack = stack
	}
	em.code.Instructions = append(em.code.Instructions, int(op))
	em.code.Instructions = append(em.code.Instructions, operands...)
}

// literal returns the index of v in the literal table, adding it if needed.
func (em *emitter) literal(v Value) int {
	for i, l := range em.code.Literals {
		if l == v {
			return i
		}
	}
	em.code.Literals = append(em.code.Literals, v)
	return len(em.code.Literals) - 1
}

// locate records p as the source location of the next instruction.
func (em *emitter) locate(p *Position) {
	if p == nil {
		return
	}
	em.code.Locations = append(em.code.Locations, Location{IP: len(em.code.Instructions), At: *p})
}

func (em *emitter) fail(err error) {
	if em.err == nil {
		em.err = err
	}
}

// Label is a forward reference to an instruction offset.
type Label struct {
	resolved bool
	target   int
	refs     []int // operand positions that reference this label
}

// newLabel creates an unresolved label.
func (em *emitter) newLabel() *Label {
	l := &Label{refs: make([]int, 0, 2)}
	em.labels = append(em.labels, l)
	return l
}

// mark resolves a label to the current position.
func (em *emitter) mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.target = len(em.code.Instructions)
}

// jump emits a JUMP or BRANCH to l.
func (em *emitter) jump(op Opcode, stack int, l *Label) {
	em.emit(op, stack, 0)
	l.refs = append(l.refs, len(em.code.Instructions)-1)
}

// finish back-patches every label reference with its absolute target.
func (em *emitter) finish() error {
	for _, l := range em.labels {
		if !l.resolved {
			return Errorf("internal error: unresolved label")
		}
		for _, ref := range l.refs {
			em.code.Instructions[ref] = l.target
		}
	}
	em.labels = nil
	return em.err
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int
	Op       Opcode
	Operands []int
}

// Decode splits a Code's instruction words into instructions.
func (c *Code) Decode() []Instruction {
	var out []Instruction
	words := c.Instructions
	for ip := 0; ip < len(words); {
		op := Opcode(words[ip])
		n := op.Info().Operands
		end := ip + 1 + n
		if end > len(words) {
			end = len(words)
		}
		out = append(out, Instruction{Offset: ip, Op: op, Operands: words[ip+1 : end]})
		ip = end
	}
	return out
}

// Disassemble returns a human-readable listing of a Code's instructions.
func (e *Engine) Disassemble(c *Code) string {
	var sb strings.Builder
	for _, in := range c.Decode() {
		fmt.Fprintf(&sb, "%04d  %-24s", in.Offset, in.Op)
		for _, operand := range in.Operands {
			fmt.Fprintf(&sb, " %d", operand)
		}
		if in.Op == OpPush && len(in.Operands) == 1 && in.Operands[0] < len(c.Literals) {
			fmt.Fprintf(&sb, "  ; %s", e.Format(c.Literals[in.Operands[0]]))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
