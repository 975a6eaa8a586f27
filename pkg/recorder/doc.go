// Package recorder persists camera frames seen while driving.
//
// Invariants:
//   - File names are microsecond timestamps that strictly increase within a run,
//     so lexical order equals temporal order.
//   - Writes from concurrent sessions are serialized.
//   - Failures are returned as *IOError and never stop the control loop.
//
// Usage:
//
//	_ = recorder.Prepare("/data/run1")
//	rec, _ := recorder.New(recorder.Config{Directory: "/data/run1", Journal: true})
//	defer rec.Close()
//	name, err := rec.Record(ctx, entry)
package recorder
