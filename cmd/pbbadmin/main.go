// Command pbbadmin bootstraps and inspects a PBB database offline: it runs
// migrations, creates villages and the first platform admin, loads demo
// scenarios and prints the village dashboard.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/pbb-engine/auth"
	"github.com/warp/pbb-engine/config"
	"github.com/warp/pbb-engine/demo"
	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
	"github.com/warp/pbb-engine/store/sqlite"
)

var Version = "dev"

// systemCaller is the identity offline commands run as.
var systemCaller = pbb.Caller{Role: pbb.RoleSuperAdmin}

type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func main() {
	a := &app{cfg: config.Load()}

	rootCmd := &cobra.Command{
		Use:     "pbbadmin",
		Short:   "Administer a PBB collection database",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			lc := logging.DefaultConfig()
			lc.Level = level
			lc.Component = logging.ComponentCLI
			lc.Output = cmd.ErrOrStderr()
			a.logger = logging.New(lc)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.cfg.DatabasePath, "db", a.cfg.DatabasePath, "SQLite database path")

	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.createVillageCmd())
	rootCmd.AddCommand(a.createAdminCmd())
	rootCmd.AddCommand(a.seedCmd())
	rootCmd.AddCommand(a.dashboardCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) open() (*sqlite.Store, *pbb.Engine, error) {
	store, err := sqlite.New(a.cfg.DatabasePath, a.logger)
	if err != nil {
		return nil, nil, err
	}
	engine := pbb.NewEngine(store, auth.NewHasher(a.cfg.BcryptCost), a.logger)
	return store, engine, nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.open()
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "schema of %s is up to date\n", a.cfg.DatabasePath)
			return nil
		},
	}
}

func (a *app) createVillageCmd() *cobra.Command {
	var name, code string
	cmd := &cobra.Command{
		Use:   "create-village",
		Short: "Create a village",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, engine, err := a.open()
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := engine.CreateVillage(cmd.Context(), systemCaller, pbb.NewVillage{Name: name, Code: code})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created village %d (%s, %s)\n", v.ID, v.Name, v.Code)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Village name")
	cmd.Flags().StringVar(&code, "code", "", "Unique village code")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("code")

	return cmd
}

func (a *app) createAdminCmd() *cobra.Command {
	var username, password, fullName string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a platform admin (super_admin) user",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, engine, err := a.open()
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := engine.CreateUser(cmd.Context(), systemCaller, pbb.NewUser{
				Username: username,
				Password: password,
				FullName: fullName,
				Role:     pbb.RoleSuperAdmin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %d (%s)\n", u.ID, u.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Login name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().StringVar(&fullName, "full-name", "Administrator", "Display name")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func (a *app) seedCmd() *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo scenario",
		Long:  "Load a demo scenario into the database. Available: " + strings.Join(demo.IDs(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, engine, err := a.open()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := demo.Load(cmd.Context(), engine, systemCaller, scenario)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "loaded %s: %d villages, %d hamlets, %d payments\n",
				scenario, res.Villages, res.Hamlets, res.Payments)
			for _, op := range res.Operators {
				fmt.Fprintf(out, "  operator %s / %s\n", op, demo.DefaultPassword)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenario, "scenario", "s", "alpha", "Scenario id")

	return cmd
}

func (a *app) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the village dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, engine, err := a.open()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := engine.VillageDashboard(cmd.Context(), systemCaller)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-24s %10s %10s %18s %18s %8s\n",
				"ID", "VILLAGE", "SPPT", "SPPT PAID", "PBB TARGET", "PBB PAID", "%")
			for _, r := range rows {
				fmt.Fprintf(out, "%-6d %-24s %10d %10d %18s %18s %8s\n",
					r.VillageID, r.VillageName, r.TotalSPPTTarget, r.TotalSPPTPaid,
					pbb.FormatMoney(r.TotalPBBTarget), pbb.FormatMoney(r.TotalPBBPaid),
					pbb.FormatMoney(r.AchievementPercentage))
			}
			return nil
		},
	}
}
