package diagnostics

// dtcMap holds descriptions for well-known Powertrain codes, adapted from
// the teacher's uds/dtcs.go (GetDTCLabel's table), keyed by a decoded
// Code's String() form rather than a bare 4-digit string so Chassis/Body/
// Network codes share the same lookup as Powertrain ones.
var dtcMap = map[string]string{
	"P0001": "Fuel Volume Regulator Control Circuit/Open",
	"P0002": "Fuel Volume Regulator Control Circuit Range/Performance",
	"P0003": "Fuel Volume Regulator Control Circuit Low",
	"P0004": "Fuel Volume Regulator Control Circuit High",
	"P0100": "Mass or Volume Air Flow Circuit Malfunction",
	"P0101": "Mass or Volume Air Flow Circuit Range/Performance Problem",
	"P0102": "Mass or Volume Air Flow Circuit Low Input",
	"P0103": "Mass or Volume Air Flow Circuit High Input",
	"P0105": "Manifold Absolute Pressure/Barometric Pressure Circuit Malfunction",
	"P0110": "Intake Air Temperature Circuit Malfunction",
	"P0112": "Intake Air Temperature Sensor 1 Circuit Low Input",
	"P0113": "Intake Air Temperature Sensor 1 Circuit High Input",
	"P0115": "Engine Coolant Temperature Circuit Malfunction",
	"P0120": "Throttle Pedal Position Sensor/Switch A Circuit Malfunction",
	"P0201": "Injector Circuit Malfunction - Cylinder 1",
	"P0202": "Injector Circuit Malfunction - Cylinder 2",
	"P0220": "Throttle/Pedal Position Sensor/Switch B Circuit Malfunction",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0401": "Exhaust Gas Recirculation (EGR) Flow Insufficient Detected",
	"P0402": "Exhaust Gas Recirculation (EGR) Flow Excessive Detected",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0441": "Evaporative Emission Control System Incorrect Purge Flow",
	"P0442": "Evaporative Emission Control System Leak Detected (small leak)",
	"P0446": "Evaporative Emission Control System Vent Control Circuit Malfunction",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0562": "System Voltage Low",
	"P0563": "System Voltage High",
	"P0600": "Serial Communication Link Malfunction",
	"P0705": "Transmission Range Sensor Circuit Malfunction (PRNDL Input)",
	"P0708": "Transmission Range Sensor Circuit High Input",
	"P0715": "Input/Turbine Speed Sensor Circuit Malfunction",
	"P0720": "Output Speed Sensor Circuit Malfunction",
	"P0730": "Incorrect Gear Ratio",
	"P0740": "Torque Converter Clutch Circuit Malfunction",
	"P0750": "Shift Solenoid A Malfunction",
	"P0755": "Shift Solenoid B Malfunction",
	"P0760": "Shift Solenoid C Malfunction",
	"P0765": "Shift Solenoid D Malfunction",
	"P0850": "Park/Neutral Position (PNP) Switch Circuit Malfunction",
	"P1100": "Engine Coolant Temperature Sensor 1 Circuit Range/Performance",
	"P1120": "Throttle Position Sensor/Switch Circuit Malfunction",
	"P1130": "Throttle Position Sensor Circuit Malfunction",
	"P1237": "Fuel Pump Secondary Circuit Malfunction",
	"P1402": "EGR System - Insufficient Flow Detected",
	"P1500": "Vehicle Speed Sensor A Malfunction",
	"P1590": "SideStand Sensor Error",
	"P1632": "Module Supply Voltage Out Of Range",
	"P1685": "Metering Oil Pump Malfunction",
	"P2120": "Throttle/Pedal Pos Sensor/Switch D Circuit",
	"P2125": "Throttle/Pedal Pos Sensor/Switch E Circuit",
	"P2226": "Barometric Pressure Circuit",
	"P2803": "Transmission Range Sensor B Circuit High",
}

// Describe returns code's known description, or its bare String() form
// if the code isn't in dtcMap.
func Describe(code Code) string {
	label := code.String()
	if desc, ok := dtcMap[label]; ok {
		return desc
	}
	return label
}
