// Package executor dispatches planned governance actions to per-type
// handlers and records their outcomes.
//
// For every action in a batch the executor persists an intent record,
// consults the kernel constraint checker (enforced mode only), applies the
// type-specific side effect against the target entity, and writes the
// audit entry, memory row, and optional alert that make the change
// traceable and reversible.
//
// Two invariants shape the control flow:
//
//   - Advisory mode records and stops: no target-entity mutation happens
//     and every result stays "planned".
//   - Failure isolation: a refusal, handler error, or handler panic is
//     terminal for that one action only. The rest of the batch always
//     runs, in input order.
//
// There is no cross-action atomicity. If action 2 fails, the effects of
// actions 0 and 1 stand; a crash mid-sequence can leave partial effects
// (entity mutated, memory not yet written). This is deliberate
// best-effort sequencing, not a two-phase commit.
package executor
