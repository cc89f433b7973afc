// Package prebuilt provides ready-made graph templates for common
// patterns: a fan-out/fan-in diamond, a human-reviewed pipeline, a
// bounded refinement loop, and a node that dispatches tool calls
// concurrently. Each template returns a *stategraph.Builder that callers
// can extend before compiling.
package prebuilt
