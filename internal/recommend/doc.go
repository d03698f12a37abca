// Package recommend holds the interaction data model shared by the tuning
// pipeline: datasets loaded from CSV, a deterministic per-user holdout split
// and the ranking evaluator used to score trials.
//
// Users and items are addressed by dense indices assigned in sorted order of
// their external identifiers, so two loads of the same file always produce
// the same indices.
package recommend
