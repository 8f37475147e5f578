package config

// -----------------------------------------------------------------------------
// Embedded profiles
//
// Key: board ID read from the two strap pins.
// Val: YAML overlay applied on top of Default().
// -----------------------------------------------------------------------------

const profileBenchA = `
board: bench-a
`

const profileBenchB = `
board: bench-b
log_level: debug
queue_capacity: 16
buttons:
  frequency_long_ms: 1200
heartbeat:
  interval_ms: 5000
`

var embeddedProfiles = map[uint8]string{
	0: profileBenchA,
	1: profileBenchB,
}
