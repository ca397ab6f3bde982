// Package device manages acquisition devices.
//
// A Device wraps one injected Driver and runs its blocking acquisition loop,
// raising a FrameEvent to every subscriber for each frame and accounting for
// frames lost between consecutive counters. The Manager is the thread-safe
// registry that discovers, connects and starts Devices and stops them all
// on shutdown.
//
// Drivers are grouped into Backends by path domain. A device path has the
// form "<domain>:<address>", for example "sim:00:07:80:4D:2E:76" or
// "serial:/dev/ttyUSB0"; a Router dispatches each path to the Backend
// registered for its domain.
//
// The channel layout of a Device is derived from its hardware description
// through a lookup table (see LookupLayout), never negotiated with the
// driver.
package device
