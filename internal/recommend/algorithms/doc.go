// Package algorithms implements the recommenders the tuner searches over.
//
// Every algorithm is a plain configuration struct whose Fit method trains a
// recommend.Model. Training is deterministic: given the same dataset and
// configuration, Fit produces bit-identical scores, which is what lets the
// final model be retrained from a trial's parameters.
package algorithms
