// Package sim provides simulated devices.
//
// A Backend serves paths of the form "sim:<address>". Each configured
// address reports a hardware description from the device layout table and
// produces a deterministic waveform at the configured frequency, or, in
// inject mode, exactly the frames a test pushes with Driver.Inject.
package sim
