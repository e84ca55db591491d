// Package throttle paces calls to a wrapped function.
//
// Two policies are provided and are meant to run side by side on the same
// event stream:
//
//   - Throttle is leading-edge and rate-capped. The first call of a window
//     fires immediately; calls inside the window are dropped.
//   - Debounce is trailing-edge. It fires once the calls have been quiet for
//     the delay, with the argument of the latest call.
//
// Both offer an idempotent Cancel that discards pending state without
// firing. Neither deduplicates across the other, so equal delays can yield
// two near-identical calls.
package throttle
