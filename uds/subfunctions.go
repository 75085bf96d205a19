package uds

// Subfunction constants this module issues, narrowed from the teacher's
// subfunctions.go (which also covered ECU Reset, Routine Control,
// Communication Control) to Diagnostic Session Control and Security
// Access.
const (
	SubfunctionDefaultSession byte = 0x01

	SubfunctionRequestSeed byte = 0x01
	SubfunctionSendKey     byte = 0x02
)
