package befunge

import "fmt"

// Reasons recorded when an instruction kills a process.
const (
	ReasonEmptyStack = "Pop from empty stack."
	ReasonDivZero    = "Divide by zero."
	ReasonModZero    = "Modulo by zero."
	ReasonKilled     = "killed"
)

// ParseError is returned when program source cannot be turned into a Program.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Msg
}

type ErrProcNotFound struct {
	PID
}

func (e ErrProcNotFound) Error() string {
	return fmt.Sprintf("process %d not found", e.PID)
}
