package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/assistcore/internal/config"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	Long: `List the providers from the merged configuration in the order the
router tries them.`,
	RunE: runProviders,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long:  `Load every config source for the working directory and report problems.`,
	RunE:  runCheck,
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "Output as JSON")
}

func runProviders(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd, workDir, printLogs)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	statuses := a.registry.Statuses()
	out := cmd.OutOrStdout()

	if providersJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(out, "No providers configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tID\tKIND\tMODEL\tENDPOINT\tSTATE")
	for _, st := range statuses {
		state := color.GreenString("enabled")
		if !st.Config.IsEnabled() {
			state = color.HiBlackString("disabled")
		}
		model := st.Config.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			st.Config.Priority, st.Config.ID, st.Config.Kind, model, st.Config.Endpoint, state)
	}
	return w.Flush()
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	sources := config.Sources(workDir)
	if len(sources) == 0 {
		fmt.Fprintln(out, "No config files found.")
	}
	for _, s := range sources {
		fmt.Fprintf(out, "  %s\n", s)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "invalid configuration:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
		return fmt.Errorf("configuration check failed")
	}

	color.New(color.FgGreen).Fprintf(out, "ok: %d providers\n", len(cfg.Providers))
	return nil
}
