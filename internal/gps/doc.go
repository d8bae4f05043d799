// Package gps is the position sampler: it reads fixes from a receiver
// (NMEA over serial or TCP, gpsd, or the built-in simulator), normalizes them
// into PositionSample values and publishes each new fix to its subscribers.
//
// Receiver problems never stop the service; they are logged and kept in the
// snapshot so the rest of the engine keeps running on the last known fix.
package gps
