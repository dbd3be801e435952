package log

// Package log provides a very small opinionated wrapper around Go's standard
// library logging facilities. Its goal is to offer a consistent way to emit
// logs per service while keeping migration friction low.
//
// Key Features
//
//   - Per service loggers via ForService(name)
//   - Automatic prefix in every line: `[name>]`  (example: `[brop>] client attached`)
//   - Convenience level helpers: Infof, Warnf, Errorf, Debugf
//   - Debug logging can be enabled globally (SetGlobalDebug) or per service
//     (EnableDebugFor / DisableDebugFor)
//   - Uses the standard library *log.Logger* under the hood (no external deps)
//   - Central output writer (SetOutput) that updates existing loggers
//   - Record() appends a structured five-column entry to a bounded ring
//     buffer, read back by the /logs HTTP endpoint
//
// Non‑Goals (for now)
//
//   - Full-featured leveled logging framework
//   - Log sampling, rotation, or asynchronous buffering
//
// These can be added later if explicitly requested. Keeping the surface minimal
// simplifies the incremental refactor away from directly using the stdlib log
// package across the codebase.
//
// Basic Usage
//
//	import (
//		"github.com/rubiojr/cdpbridge/pkg/log"
//	)
//
//	func main() {
//		// Enable global debug logs if desired.
//		log.SetGlobalDebug(true)
//
//		// Acquire a logger for a service.
//		conduit := log.ForService("extension")
//
//		conduit.Infof("extension connected")
//		conduit.Warnf("keepalive ping failed, closing")
//		conduit.Debugf("raw frame: %v", "...") // printed because global debug enabled
//	}
//
// Selective Debug
//
//	// Only enable debug for the 'cdp' service.
//	log.EnableDebugFor("cdp")
//	log.ForService("cdp").Debugf("visible")
//	log.ForService("brop").Debugf("NOT visible")
//
// Output Routing
//
//	// Send logs to a file (ensure proper closing in real code).
//	f, _ := os.Create("cdpbridge.log")
//	log.SetOutput(f)
//
// Thread Safety
//
// All exported functions are safe for concurrent use. Internally the package
// relies on sync.Map and atomic primitives for minimal locking.
//
// Prefix Format
//
// The chosen prefix format `[name>]` provides a concise, grep‑friendly service
// marker. Each line still starts with the standard logger's date and
// microsecond time, ahead of the level and the prefix.
//
// Migration Strategy
//
//  1. Replace imports of the standard log package in a file with this package.
//  2. Obtain a local logger via ForService using an appropriate stable name
//     (e.g. the listener or component name).
//  3. Replace calls to log.Printf(...) with logger.Infof(...) or another
//     appropriate level helper.
//  4. Avoid introducing new direct stdlib log calls in refactored files.
//
// Testing
//
// Tests can redirect output by calling SetOutput with a bytes.Buffer,
// enabling assertions on log contents.
//
// Use responsibly and keep it minimal.
