// Package snapshots hands stage snapshots from one owner to another.
//
// A Store only loads and saves one snapshot for one Ref. Handoff builds on a
// Store: Publish captures a stage, Restore forks a stage from what was
// published and Mutate edits a published snapshot in place. Meta.ETag guards
// concurrent writers.
//
// Data flow:
//
//	stage.Snapshot() -> Handoff.Publish -> Store.Save
//	Store.Load -> Handoff.Restore -> parent.ForkFromSnapshot(...) -> *staging.Stage
//
// Stores keep snapshots as plain values; MemoryStore keeps them in process.
package snapshots
