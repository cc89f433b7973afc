// Package stategraph is the public façade over the engine. It re-exports
// the graph, state and checkpoint types so programs outside this module
// can declare graphs, compile them and run them without importing
// internal packages, and it offers a Runtime that keeps compiled graphs
// by name on one checkpoint store.
package stategraph
