// Package lifecycle implements the edge sensor's guarded lifecycle state machine.
//
// The machine has six states and a fixed table of seven transitions:
//
//	startup          initial          -> unlocked
//	lock_settings    unlocked         -> locked
//	unlock_settings  locked           -> unlocked
//	start_sensor     locked, idle     -> working
//	stop_sensor      working          -> idle
//	error            *                -> error
//	reset            *                -> initial
//
// error and reset are wildcard triggers and always succeed. Every other trigger
// is checked against its source set; a failed guard leaves the state untouched
// and returns ErrTransitionNotAllowed.
//
// start_sensor accepts idle as well as locked so that a stopped sensor can be
// resumed without a lock/unlock round trip. The command layer has always
// allowed this and the table records it.
//
// # Thread Safety
//
// Machine is not safe for concurrent use. The device core owns the lifecycle
// lock and serialises every Trigger and State call behind it.
package lifecycle
