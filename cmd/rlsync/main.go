// Package main provides the rlsync CLI for reconciling row-level security
// policies into an analytics platform's metadata database.
//
// The CLI supports:
//   - sync: Reconcile a desired-state file into the policy store
//   - status: Show the policies currently granted to a role
//   - validate: Check a desired-state file without touching the database
//   - version: Print version information
//
// rlsync runs as one step of a larger bootstrap sequence, after roles and
// datasets have been provisioned and before dashboards are imported. It is
// idempotent: re-running with the same desired state performs no writes.
package main

func main() {
	Execute()
}
