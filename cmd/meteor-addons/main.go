package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/meteor-addons/addon-updater/internal/config"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func main() {
	log := setupLogger()
	cmd := newRootCmd(log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Errorf("ERROR: %v", err)
		stop()
		os.Exit(1)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meteor-addons",
		Short:         "Keep Meteor addons up to date",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(must(cmd.Flags().GetString("log-level")))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().StringP("game-dir", "d", "", "the game directory (default $GAME_DIR or the working directory)")
	cmd.PersistentFlags().String("mods-dir", "", "the mods directory (default <game-dir>/mods)")
	cmd.PersistentFlags().StringP("game-version", "g", "", "the game version, e.g. 1.21.10 (default $GAME_VERSION)")
	cmd.PersistentFlags().StringP("server", "s", "", "talk to a running updater at this URL instead of working on the mods directory")
	cmd.PersistentFlags().String("token", os.Getenv("API_TOKEN"), "access token of the running updater")
	cmd.PersistentFlags().String("log-level", "info", "the log level")
	cmd.PersistentFlags().SortFlags = false

	cmd.AddCommand(
		newCheckCmd(log),
		newUpdateCmd(log),
		newSearchCmd(log),
		newInstallCmd(log),
		newInstalledCmd(log),
		newServeCmd(log),
	)
	return cmd
}

// loadConfig reads the environment and applies the command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Version = version
	flags := cmd.Flags()
	if v := must(flags.GetString("game-dir")); v != "" {
		cfg.GameDir = v
	}
	if v := must(flags.GetString("mods-dir")); v != "" {
		cfg.ModsDir = v
	}
	if v := must(flags.GetString("game-version")); v != "" {
		cfg.GameVersion = v
	}
	if flags.Changed("token") {
		cfg.APIToken = must(flags.GetString("token"))
	}
	return cfg, nil
}

func newCheckCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List available addon updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd, log)
			if err != nil {
				return err
			}
			defer b.Close()
			updates, err := b.Check(cmd.Context())
			if err != nil {
				return err
			}
			printUpdates(cmd.OutOrStdout(), updates)
			return nil
		},
	}
}

func newUpdateCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [addon...]",
		Short: "Download and install addon updates",
		Long:  "Download and install the updates of the given addons, or of every addon if none is given. The game has to be closed for the installer to replace the archives.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd, log)
			if err != nil {
				return err
			}
			defer b.Close()
			return runUpdate(cmd, log, b, args)
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func runUpdate(cmd *cobra.Command, log *logrus.Logger, b backend, names []string) error {
	ctx := cmd.Context()
	updates, err := b.Check(ctx)
	if err != nil {
		return err
	}
	selected := selectUpdates(updates, names)
	if len(selected) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All addons are up to date.")
		return nil
	}
	printUpdates(cmd.OutOrStdout(), selected)
	if !must(cmd.Flags().GetBool("yes")) {
		if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Install %d update(s)?", len(selected))) {
			return nil
		}
	}
	staged, err := b.Download(ctx, selectedNames(selected))
	if err != nil {
		if len(staged) == 0 {
			return err
		}
		log.Warnf("some updates could not be downloaded: %v", err)
	}
	res, err := b.InstallStaged(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installing %s using %s\n", strings.Join(res.Addons, ", "), res.Script)
	return nil
}

func selectUpdates(updates []*addon.UpdateInfo, names []string) []*addon.UpdateInfo {
	if len(names) == 0 {
		return updates
	}
	ret := make([]*addon.UpdateInfo, 0, len(names))
	for _, u := range updates {
		for _, name := range names {
			if strings.EqualFold(u.AddonName, name) {
				ret = append(ret, u)
				break
			}
		}
	}
	return ret
}

func selectedNames(updates []*addon.UpdateInfo) []string {
	names := make([]string, 0, len(updates))
	for _, u := range updates {
		names = append(names, u.AddonName)
	}
	return names
}

func newSearchCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search the addon catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd, log)
			if err != nil {
				return err
			}
			defer b.Close()
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			addons, err := b.Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINSTALLED\tAUTHORS\tDESCRIPTION")
			for _, a := range addons {
				installed := ""
				if a.Installed {
					installed = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, installed, strings.Join(a.Authors, ", "), a.Description)
			}
			return w.Flush()
		},
	}
}

func newInstallCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "install <addon>",
		Short: "Install an addon from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd, log)
			if err != nil {
				return err
			}
			defer b.Close()
			p, err := b.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s to %s\n", args[0], p)
			return nil
		},
	}
}

func newInstalledCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "installed",
		Short: "List the installed addons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd, log)
			if err != nil {
				return err
			}
			defer b.Close()
			installed, err := b.Installed(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tARCHIVE")
			for _, a := range installed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Version, a.ArchivePath)
			}
			return w.Flush()
		},
	}
}

func printUpdates(out io.Writer, updates []*addon.UpdateInfo) {
	if len(updates) == 0 {
		fmt.Fprintln(out, "All addons are up to date.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDON\tVERSION\tFILE")
	for _, u := range updates {
		change := u.VersionChange()
		if u.IsDowngrade() {
			change += " (downgrade)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.AddonName, change, u.LocalPath)
	}
	_ = w.Flush()
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
