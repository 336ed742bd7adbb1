package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Turgon37/OpenVPN-UAM/internal/adapter/sqlite"
	"github.com/Turgon37/OpenVPN-UAM/internal/config"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "uamadmin",
		Short:        "Administration tool for OpenVPN UAM",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/openvpn-uam/config.yaml", "path to configuration file")

	root.AddCommand(userCmd())
	root.AddCommand(hostnameCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openConnector loads the configured sqlite section and opens a
// connection for the duration of one command.
func openConnector() (*sqlite.Connector, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Adapter != sqlite.Name {
		return nil, fmt.Errorf("uamadmin only supports the %q adapter, configured adapter is %q", sqlite.Name, cfg.Database.Adapter)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conn := sqlite.New(logger)
	if err := conn.Load(cfg.AdapterSection()); err != nil {
		return nil, err
	}
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return conn, nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var (
		mail         string
		certMail     string
		certPassword string
		disabled     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mail == "" {
				return fmt.Errorf("--mail is required")
			}

			conn, err := openConnector()
			if err != nil {
				return err
			}
			defer conn.Close()

			user := &models.User{
				CUID:                uuid.NewString(),
				Mail:                mail,
				CertificateMail:     certMail,
				CertificatePassword: certPassword,
				Enabled:             !disabled,
			}
			if err := conn.InsertUser(user); err != nil {
				return err
			}

			fmt.Printf("Created user %d\n", user.ID)
			fmt.Printf("  CUID: %s\n", user.CUID)
			fmt.Printf("  Mail: %s\n", user.Mail)
			return nil
		},
	}
	cmd.Flags().StringVar(&mail, "mail", "", "contact mail address (required)")
	cmd.Flags().StringVar(&certMail, "cert-mail", "", "mail address for certificate delivery, enables random key passwords")
	cmd.Flags().StringVar(&certPassword, "cert-password", "", "fixed password for private key protection")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the user in disabled state")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users and their hostnames",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnector()
			if err != nil {
				return err
			}
			defer conn.Close()

			users, err := conn.FetchUserList()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCUID\tMAIL\tENABLED\tHOSTNAMES")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\n", u.ID, u.CUID, u.Mail, u.Enabled, len(u.Hostnames))
			}
			return w.Flush()
		},
	}
}

func hostnameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hostname",
		Short: "Manage hostnames",
	}
	cmd.AddCommand(hostnameAddCmd())
	return cmd
}

func hostnameAddCmd() *cobra.Command {
	var (
		userID     int64
		name       string
		periodDays int
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a hostname to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if periodDays <= 0 {
				return fmt.Errorf("--period-days must be positive")
			}

			conn, err := openConnector()
			if err != nil {
				return err
			}
			defer conn.Close()

			host := &models.Hostname{
				Name:       name,
				Enabled:    !disabled,
				PeriodDays: periodDays,
				CreatedAt:  time.Now(),
			}
			if err := conn.InsertHostname(userID, host); err != nil {
				return err
			}

			fmt.Printf("Created hostname %d (%s) for user %d\n", host.ID, host.Name, userID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "owner user id (required)")
	cmd.Flags().StringVar(&name, "name", "", "hostname (required)")
	cmd.Flags().IntVar(&periodDays, "period-days", 365, "certificate validity period in days")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the hostname in disabled state")
	return cmd
}
