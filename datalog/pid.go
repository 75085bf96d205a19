package datalog

import (
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Pid describes one parameter to poll: the DID to read with
// ReadDataByIdentifier and the formula used to turn its raw response
// bytes into an engineering value.
type Pid struct {
	ID      uint32
	Name    string
	Code    uint16
	Formula string
}

// LoadPidList parses a PID definition file in INI form, one section per
// PID keyed by its hex DID, e.g.:
//
//	[010A]
//	Name=Coolant Temperature
//	Formula=a - 40
//
// Adapted from the teacher corpus's EDS-style ini.Load section walk
// (samsamfire-gocanopen's od_parser.go), narrowed to the few keys a PID
// list needs instead of a full object dictionary.
func LoadPidList(path string) ([]Pid, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "datalog: loading pid list")
	}

	var pids []Pid
	for i, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		code, err := strconv.ParseUint(name, 16, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "datalog: section %q is not a hex DID", name)
		}

		formula := section.Key("Formula").String()
		if formula == "" {
			return nil, errors.Errorf("datalog: pid %q is missing a Formula", name)
		}

		pids = append(pids, Pid{
			ID:      uint32(i),
			Name:    section.Key("Name").String(),
			Code:    uint16(code),
			Formula: formula,
		})
	}
	return pids, nil
}
