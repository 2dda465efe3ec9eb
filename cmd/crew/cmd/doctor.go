package cmd

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devcrewhq/crew/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check tools, services and configuration",
	Long: `Verify the environment a run depends on.

Git is required for workspace management. The quality gate tools are
optional: a gate skips quietly when its tool is missing. Redis and the
task store must be reachable before a fleet can start.`,
	RunE: runDoctorCmd,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// gateTools mirrors what the validation gates shell out to.
var gateTools = []string{"python3", "ruff", "mypy", "pytest", "tsc", "eslint", "npx"}

func runDoctorCmd(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	healthy := true

	fmt.Fprintln(out, "Checking tools...")
	fmt.Fprintln(out)
	if _, err := exec.LookPath("git"); err != nil {
		fmt.Fprintln(out, "  ✗ git")
		healthy = false
	} else {
		fmt.Fprintln(out, "  ✓ git")
	}
	for _, tool := range gateTools {
		if _, err := exec.LookPath(tool); err != nil {
			fmt.Fprintf(out, "  ○ %s (optional)\n", tool)
		} else {
			fmt.Fprintf(out, "  ✓ %s\n", tool)
		}
	}
	fmt.Fprintln(out)

	// Loaded leniently here: every config issue prints as its own line
	// instead of aborting the command.
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()

	fmt.Fprintln(out, "Checking configuration...")
	fmt.Fprintln(out)
	if err != nil {
		fmt.Fprintf(out, "  ✗ %v\n", err)
		healthy = false
		cfg = nil
	} else if verr := config.NewValidator().Validate(cfg); verr != nil {
		if issues, ok := verr.(config.ValidationErrors); ok {
			for _, issue := range issues {
				fmt.Fprintf(out, "  ✗ %s: %s\n", issue.Field, issue.Message)
			}
		} else {
			fmt.Fprintf(out, "  ✗ %v\n", verr)
		}
		healthy = false
	} else {
		source := loader.ConfigFile()
		if source == "" {
			source = "built-in defaults"
		}
		fmt.Fprintf(out, "  ✓ configuration valid (%s)\n", source)
		fmt.Fprintf(out, "  ✓ model %s in %s\n", cfg.LLM.ModelID, cfg.LLM.Region)
	}
	fmt.Fprintln(out)

	if cfg != nil {
		fmt.Fprintln(out, "Checking services...")
		fmt.Fprintln(out)
		if rdb, err := openRedis(cmd.Context(), cfg); err != nil {
			fmt.Fprintf(out, "  ✗ redis: %v\n", err)
			healthy = false
		} else {
			_ = rdb.Close()
			fmt.Fprintf(out, "  ✓ redis (%s)\n", cfg.Redis.URL)
		}
		if st, err := openStore(cfg); err != nil {
			fmt.Fprintf(out, "  ✗ store: %v\n", err)
			healthy = false
		} else {
			_ = st.Close()
			fmt.Fprintf(out, "  ✓ store (%s)\n", cfg.Database.URL)
		}
		fmt.Fprintln(out)
	}

	if !healthy {
		fmt.Fprintln(out, "Some required checks failed")
		return fmt.Errorf("environment check failed")
	}
	fmt.Fprintln(out, "Ready to run")
	return nil
}
