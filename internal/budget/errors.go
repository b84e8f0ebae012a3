package budget

import "errors"

// ErrBudgetExhausted indicates the remaining budget cannot fund another analysis.
var ErrBudgetExhausted = errors.New("budget exhausted")

// ErrEmergencyStop indicates spend crossed the stop fraction and dispatch is halted.
var ErrEmergencyStop = errors.New("emergency stop engaged")
