// Package analysis inspects recorded runs.
//
//   - [PowerSpectrum]: magnitude spectrum of a series
//   - [DominantPeriod]: strongest oscillation in core temperature, used to
//     spot a rod controller that hunts around its setpoint
//   - [NewPhasePortrait]: core against coolant temperature trajectory
package analysis
