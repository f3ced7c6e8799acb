// Package feedback closes the governance loop: it records how executed
// actions turned out, scores per-type effectiveness, measures impact from
// before/after system snapshots, and emits adaptive recommendations for
// future planning cycles.
//
// Everything it learns lands in the memory store under the feedback:* and
// effectiveness:* kinds, where the planning process reads it back.
package feedback
