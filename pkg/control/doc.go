// Package control implements the telemetry -> decision -> actuation loop.
//
// A Controller turns one Telemetry sample into one Command: decode the camera
// frame, ask the oracle for a steering angle, update the speed governor and
// apply the throttle law. The Loop owns per-session mailboxes and workers and
// broadcasts results through an Emitter.
package control
