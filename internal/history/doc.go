// Package history keeps a write-side journal of decoded diagnostic results.
//
// Every successful Get*Result call on a bridged device, and every device
// appearance or disappearance, becomes one row in the diag_results table.
// The journal is an audit trail only. Nothing in the bridge reads it back to
// rebuild device state.
//
// Thread Safety:
//
// SQLiteRepository is safe for concurrent use. The underlying database handle
// serialises statements on its single connection.
package history
