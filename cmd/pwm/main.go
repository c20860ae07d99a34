package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"pwm-go/internal/app"
	"pwm-go/internal/config"
)

// errReported marks a failure whose JSON response was already written.
var errReported = errors.New("reported")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", app.UserMessage(err))
		}
		os.Exit(1)
	}
}

// newApp reads the config and creates a PMApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "AddPassword").
func newApp(cmd *cobra.Command, operation string) (*app.PMApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewPMApp(cmd.Context(), cfg, app.Options{Operation: operation, Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// respond writes the outcome of a command. With --json it prints a Response;
// otherwise human runs on success and the error is returned to main.
func respond(cmd *cobra.Command, data any, err error, human func()) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(app.NewResponse(data, err)); encErr != nil {
			return encErr
		}
		if err != nil {
			return errReported
		}
		return nil
	}
	if err != nil {
		return err
	}
	if human != nil {
		human()
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "pwm",
	Short:         "Local password manager",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Credential:      %s\n", cfg.Auth.CredentialPath)
		fmt.Printf("Database:        %s (%s)\n", cfg.DatabasePath(), cfg.Database.Type)
		fmt.Printf("Session Timeout: %s\n", cfg.Auth.SessionTimeout.Duration)
		fmt.Printf("Encryption:      %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:           %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// master command
var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Manage the master password",
}

var masterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the master password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CreateMasterPassword")
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readNewSecret("New master password: ")
		if err != nil {
			return err
		}
		if s := a.ValidatePasswordStrength(password); !s.IsValid {
			fmt.Fprintf(os.Stderr, "Warning: weak password (strength %d/5)\n", s.Strength)
		}

		err = a.CreateMasterPassword(password)
		return respond(cmd, nil, err, func() {
			fmt.Println("Master password created.")
		})
	},
}

var masterChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ChangeMasterPassword")
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := readSecret("Current master password: ")
		if err != nil {
			return err
		}
		password, err := readNewSecret("New master password: ")
		if err != nil {
			return err
		}

		stats, err := a.ChangeMasterPassword(cmd.Context(), current, password)
		return respond(cmd, stats, err, func() {
			fmt.Println("Master password changed.")
			if a.Config().Auth.Reencrypt() {
				fmt.Printf("Re-encrypted %d record(s), upgraded %d, skipped %d\n",
					stats.Reencrypted, stats.Upgraded, stats.Skipped)
			}
		})
	},
}

var masterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a master password is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetState")
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.State()
		return respond(cmd, map[string]string{"state": state.String()}, err, func() {
			fmt.Println(state)
		})
	},
}

// reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the master password and every stored record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("reset deletes all records; pass --yes to confirm")
		}

		a, err := newApp(cmd, "Reset")
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Reset()
		return respond(cmd, nil, err, func() {
			fmt.Println("Password manager reset.")
		})
	},
}

// strength command
var strengthCmd = &cobra.Command{
	Use:   "strength",
	Short: "Score a candidate password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ValidatePasswordStrength")
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}

		s := a.ValidatePasswordStrength(password)
		return respond(cmd, s, nil, func() {
			r := s.Requirements
			fmt.Printf("Strength: %d/5\n", s.Strength)
			fmt.Printf("  length >= 8:  %v\n", r.MinLength)
			fmt.Printf("  uppercase:    %v\n", r.HasUpperCase)
			fmt.Printf("  lowercase:    %v\n", r.HasLowerCase)
			fmt.Printf("  digit:        %v\n", r.HasNumbers)
			fmt.Printf("  special:      %v\n", r.HasSpecial)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// master subcommands
	masterCmd.AddCommand(masterInitCmd)
	masterCmd.AddCommand(masterChangeCmd)
	masterCmd.AddCommand(masterStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().Bool("yes", false, "Confirm deletion")
	rootCmd.AddCommand(strengthCmd)
}
