// Package override implements the human-in-the-loop review workflow over
// recorded governance actions: queue and history projections, single and
// bulk approve/reject processing with per-type reversal, and aggregate
// statistics.
//
// The service is the only writer of override decisions and, together with
// the executor, one of two writers of action records. Tenant isolation is
// enforced at this boundary: an action belonging to another tenant is a
// typed error, not a silent miss.
package override
