package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/openlearn/rlsync/internal/cli"
	"github.com/openlearn/rlsync/pkg/policy"
	"github.com/openlearn/rlsync/pkg/reconciler"
	"github.com/openlearn/rlsync/pkg/store"
)

var (
	syncDB     string
	syncFile   string
	syncRole   string
	syncDryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile policies into the metadata database",
	Long: `Reconcile the desired-state file into the metadata database.

For each declared policy, sync finds or creates the policy record for the
(role, group key) pair, overwrites its clause, filter type, and dataset with
the declared values, and grants it to the role. Existing policies that are
not in the desired state are left untouched.`,
	Example: `  # Reconcile policies.yaml
  rlsync sync --db postgres://localhost/superset --file policies.yaml

  # Check preconditions without writing
  rlsync sync --db postgres://localhost/superset --dry-run

  # Override the role named in the file
  rlsync sync --db postgres://localhost/superset --role "Open edX"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := cfg.ResolvedFile(syncFile)
		dryRun := resolveBool(syncDryRun, cfg.Sync.DryRun)

		dsn, err := resolveDSN(syncDB)
		if err != nil {
			return err
		}

		desired, err := loadDesiredState(file)
		if err != nil {
			return err
		}
		role := resolveString(syncRole, cfg.Role, desired.Role)

		return runSync(dsn, role, desired.Policies, dryRun)
	},
}

func init() {
	f := syncCmd.Flags()
	f.StringVar(&syncDB, "db", "", "metadata database URL")
	f.StringVar(&syncFile, "file", "", "desired-state file (default: policies.yaml)")
	f.StringVar(&syncRole, "role", "", "role to grant policies to (overrides the file)")
	f.BoolVar(&syncDryRun, "dry-run", false, "resolve preconditions without writing")
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// loadDesiredState reads and validates the desired-state file.
func loadDesiredState(file string) (*policy.DesiredState, error) {
	desired, err := policy.Load(file)
	if err != nil {
		return nil, cli.DesiredStateError("desired state", err)
	}
	if err := desired.Validate(); err != nil {
		return nil, cli.DesiredStateError(fmt.Sprintf("invalid desired state in %s", file), err)
	}
	return desired, nil
}

func runSync(dsn, role string, desired []policy.Descriptor, dryRun bool) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to metadata database", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	r := reconciler.New(store.NewPostgres(db), reconciler.WithLogger(newLogger()))

	if dryRun {
		if err := r.Check(ctx, role, desired); err != nil {
			return classifySyncError(err)
		}
		if !quiet {
			fmt.Printf("Dry run: role %q and all %d datasets resolved. No changes made.\n", role, len(desired))
		}
		return nil
	}

	res, err := r.Synchronize(ctx, role, desired)
	if err != nil {
		return classifySyncError(err)
	}

	if !quiet {
		fmt.Printf("Row-level security policies synced for role %q: %d created, %d updated, %d unchanged.\n",
			role, res.Created, res.Updated, res.Unchanged)
	}
	return nil
}

// classifySyncError maps reconciliation failures to exit codes. Missing
// roles and datasets are precondition failures the operator fixes upstream.
func classifySyncError(err error) error {
	var roleErr *policy.RoleNotFoundError
	var datasetErr *policy.DatasetNotFoundError
	if errors.As(err, &roleErr) || errors.As(err, &datasetErr) {
		return cli.PreconditionError("precondition failed", err)
	}
	return cli.GeneralError("sync failed", err)
}
