package tenantcmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	sqlassets "github.com/relaycore/courier/database"
	"github.com/relaycore/courier/domains/tenants/be/repo"
	"github.com/relaycore/courier/domains/tenants/be/service"
)

// Command groups tenant registry helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant registry utilities (onboard/list/suspend/reactivate)",
	}

	cmd.AddCommand(onboardCommand())
	cmd.AddCommand(listCommand())
	cmd.AddCommand(initDBCommand())
	cmd.AddCommand(setStatusCommand("suspend", "Suspend a tenant, fencing its data-plane traffic"))
	cmd.AddCommand(setStatusCommand("reactivate", "Reactivate a suspended tenant"))
	return cmd
}

func initDBCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "init-db",
		Short: "Create the message tables inside a tenant's dedicated database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			conn, err := pgx.Connect(ctx, databaseURL)
			if err != nil {
				return fmt.Errorf("connect tenant database: %w", err)
			}
			defer func() {
				_ = conn.Close(ctx)
			}()

			if _, err := conn.Exec(ctx, sqlassets.ConversationsSQL); err != nil {
				return fmt.Errorf("apply tenant schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant schema applied")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "tenant-database-url", "", "Tenant PostgreSQL connection string")
	_ = c.MarkFlagRequired("tenant-database-url")

	return c
}

// withService opens the control-plane pool and hands a registry service to fn.
func withService(databaseURL string, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("init control-plane pool: %w", err)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	svc := service.New(repo.NewPostgresRepository(pool), time.Minute)
	return fn(ctx, svc)
}

func onboardCommand() *cobra.Command {
	var (
		databaseURL    string
		slug           string
		host           string
		port           int
		database       string
		credentialsRef string
	)

	c := &cobra.Command{
		Use:   "onboard",
		Short: "Register a tenant and its dedicated database coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				t, err := svc.Onboard(ctx, service.OnboardInput{
					Slug:           slug,
					Host:           host,
					Port:           port,
					Database:       database,
					CredentialsRef: credentialsRef,
				})
				if err != nil {
					return fmt.Errorf("onboard tenant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant onboarded: %s (%s)\n", t.Slug, t.ID)
				return nil
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "control-database-url", "", "Control-plane PostgreSQL connection string")
	c.Flags().StringVar(&slug, "slug", "", "Tenant slug")
	c.Flags().StringVar(&host, "db-host", "", "Tenant database host")
	c.Flags().IntVar(&port, "db-port", 5432, "Tenant database port")
	c.Flags().StringVar(&database, "db-name", "", "Tenant database name")
	c.Flags().StringVar(&credentialsRef, "credentials-ref", "", "Credentials reference resolved by the API at connect time")

	_ = c.MarkFlagRequired("control-database-url")
	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("db-host")
	_ = c.MarkFlagRequired("db-name")

	return c
}

func listCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				tenants, err := svc.List(ctx)
				if err != nil {
					return fmt.Errorf("list tenants: %w", err)
				}
				if len(tenants) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tenants registered")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSlug\tStatus\tDatabase\tCreated")
				for _, t := range tenants {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s:%d/%s\t%s\n",
						t.ID, t.Slug, t.Status, t.Host, t.Port, t.Database,
						t.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "control-database-url", "", "Control-plane PostgreSQL connection string")
	_ = c.MarkFlagRequired("control-database-url")

	return c
}

func setStatusCommand(use, short string) *cobra.Command {
	var (
		databaseURL string
		id          string
	)

	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			return withService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				var t service.Tenant
				if use == "suspend" {
					t, err = svc.Suspend(ctx, tenantID)
				} else {
					t, err = svc.Reactivate(ctx, tenantID)
				}
				if err != nil {
					return fmt.Errorf("%s tenant: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s is now %s\n", t.Slug, t.Status)
				return nil
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "control-database-url", "", "Control-plane PostgreSQL connection string")
	c.Flags().StringVar(&id, "tenant-id", "", "Tenant id")
	_ = c.MarkFlagRequired("control-database-url")
	_ = c.MarkFlagRequired("tenant-id")

	return c
}
