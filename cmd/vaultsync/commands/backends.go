package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewBackendsCommand(app *App) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List available backends",
		Long: `Display the supported secret management backends and their capabilities.

The active backend is marked with *. Select another with --backend,
VAULTSYNC_BACKEND or backend: in settings.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "\tBACKEND\tLOCATIONS\tSESSION\tDESCRIPTION\n")

			for _, id := range app.Registry.SupportedTypes() {
				b, err := app.Registry.Create(id, nil)
				if err != nil {
					return err
				}
				caps := b.Capabilities()

				active := ""
				if id == app.Settings.Backend {
					active = "*"
				}
				locations := "-"
				if caps.Locations {
					locations = caps.LocationType
				}
				sess := "ambient"
				if caps.RequiresSession {
					sess = "token"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", active, id, locations, sess, backendDescription(id))
			}
			_ = w.Flush()

			if verbose {
				fmt.Fprintln(out, "\nSettings keys (settings.yaml, under backends:):")
				for _, id := range app.Registry.SupportedTypes() {
					if keys := backendSettingKeys(id); len(keys) > 0 {
						fmt.Fprintf(out, "  %s: %s\n", id, strings.Join(keys, ", "))
					}
				}
				if file := app.Viper.ConfigFileUsed(); file != "" {
					fmt.Fprintf(out, "\nActive backend settings from %s:\n", file)
					printBackendSettings(out, app.Viper, app.Settings.Backend)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show the settings each backend reads")

	return cmd
}

func printBackendSettings(out io.Writer, v *viper.Viper, id string) {
	opts := v.GetStringMap("backends::" + id)
	if len(opts) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, k := range sortedKeys(opts) {
		val := fmt.Sprint(opts[k])
		if strings.Contains(k, "secret") || strings.Contains(k, "key") {
			val = "[REDACTED]"
		}
		fmt.Fprintf(out, "  %s = %s\n", k, val)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func backendDescription(id string) string {
	descriptions := map[string]string{
		"bitwarden":          "Bitwarden password manager via the bw CLI",
		"1password":          "1Password via the op CLI",
		"onepassword":        "Alias of 1password",
		"pass":               "pass (zx2c4) GPG password store",
		"aws.secretsmanager": "AWS Secrets Manager via the AWS SDK",
	}
	if desc, ok := descriptions[id]; ok {
		return desc
	}
	return "No description available"
}

func backendSettingKeys(id string) []string {
	switch id {
	case "1password", "onepassword":
		return []string{"account", "vault"}
	case "pass":
		return []string{"password_store"}
	case "aws.secretsmanager":
		return []string{"region", "profile", "endpoint", "access_key_id", "secret_access_key", "recovery_window_days"}
	}
	return nil
}
