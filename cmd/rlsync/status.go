package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/openlearn/rlsync/internal/cli"
	"github.com/openlearn/rlsync/pkg/store"
)

var (
	statusDB   string
	statusRole string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the policies granted to a role",
	Long:  `Show the row-level security policies currently granted to a role. Read-only.`,
	Example: `  # List policies for a role
  rlsync status --db postgres://localhost/superset --role "Open edX"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		role := resolveString(statusRole, cfg.Role)
		if role == "" {
			return cli.ConfigError("role is required (use --role or set in config)", nil)
		}

		dsn, err := resolveDSN(statusDB)
		if err != nil {
			return err
		}

		return runStatus(dsn, role)
	},
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusDB, "db", "", "metadata database URL")
	f.StringVar(&statusRole, "role", "", "role to inspect")
}

func runStatus(dsn, roleName string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to metadata database", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	st := store.NewPostgres(db)

	role, err := st.FindRole(ctx, roleName)
	if err != nil {
		return cli.GeneralError("looking up role", err)
	}
	if role == nil {
		return cli.PreconditionError(fmt.Sprintf("role %q not found", roleName), nil)
	}

	policies, err := st.ListPoliciesForRole(ctx, role.ID)
	if err != nil {
		return cli.GeneralError("listing policies", err)
	}

	if len(policies) == 0 {
		fmt.Printf("Role %q has no row-level security policies.\n", role.Name)
		return nil
	}

	fmt.Printf("Role %q has %d row-level security policies:\n\n", role.Name, len(policies))
	for _, p := range policies {
		fmt.Printf("  %s (%s)\n", p.GroupKey, p.FilterType)
		fmt.Printf("    clause:   %s\n", p.Clause)
		fmt.Printf("    datasets: %v\n", p.DatasetIDs)
	}
	return nil
}
