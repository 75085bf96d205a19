package diagnostics

import "fmt"

// Code is a 2-byte DTC as returned by ReadDTCInformation: the top 2 bits
// select the system (Powertrain/Chassis/Body/Network) and the remaining
// 14 bits are the numeric code.
type Code uint16

// systemLetter is keyed by the code's top 2 bits (value>>14).
var systemLetter = [4]byte{'P', 'C', 'B', 'U'}

// String renders the code in its standard "P0143" form.
func (c Code) String() string {
	letter := systemLetter[c>>14]
	return fmt.Sprintf("%c%04X", letter, uint16(c)&0x3FFF)
}
