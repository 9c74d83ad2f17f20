// Package view implements derived views: read-only joins over entity
// models that recompute whenever one of their inputs changes.
//
// A view is a Node whose compute function reads its inputs through a
// Tracker. Every source read during a run is watched until a later run
// stops reading it, so dependencies follow the data: when a tab appears
// the overview starts watching that tab's categories, and when it goes
// away the watch and the registry reference are dropped.
//
// Recomputation is scheduled on an engine.Engine under the node's key, so
// a burst of upstream changes coalesces into one run and runs never
// overlap. Each run re-evaluates the whole join; the output is a pure
// function of the input snapshots.
package view
