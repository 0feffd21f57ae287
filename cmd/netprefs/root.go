package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "netprefs",
		Short:         "Inspect and edit network preference documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.finish()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to the configuration file")
	flags.StringVarP(&a.documentPath, "document", "d", "", "preferences document, overrides document.path")
	flags.StringVar(&a.logLevel, "log-level", "", "log level, overrides logging.level")

	root.AddCommand(
		newServicesCmd(a),
		newSetsCmd(a),
		newEnableCmd(a, true),
		newEnableCmd(a, false),
		newMigrateCmd(a),
		newWatchCmd(a),
		newCatalogCmd(a),
	)
	return root
}
