// Package viz is the terminal dashboard for the reactor simulator.
//
// The dashboard subscribes to the published samples, charts core and
// coolant temperature with asciigraph and forwards key presses to the
// console as operator actions.
//
// # Key Bindings
//
//	Space     - Start/stop the simulation
//	R         - Reset the plant
//	S         - SCRAM
//	E         - Emergency coolant injection
//	Up/Down   - Rod position +/-0.05 (up inserts)
//	Left/Right- Coolant flow -/+25 kg/s
//	P         - Reactivity spike (10 s, rods withdrawn)
//	F         - Coolant failure (10 s)
//	A         - Toggle auto-shutdown
//	C         - Toggle automatic rod control
//	X         - Export the run to CSV
//	?         - Show help overlay
//	Q         - Quit
package viz
