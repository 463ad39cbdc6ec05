// Package benchmark measures command round-trip latency across a fleet.
//
// The Prober sends an inf-latency-bench SET to every device at a fixed
// interval. Each device answers on export/{device}/inf-latency-bench with the
// time it received the command. The Recorder stores those answers in SQLite
// and ExportCSV writes them out for offline analysis.
package benchmark
