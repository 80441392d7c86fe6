package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/geosurvey/internal/geo"
)

var (
	nameProperty string
	rootCmd      = &cobra.Command{
		Use:           "areactl",
		Short:         "Inspect GeoJSON area files used by geosurvey",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&nameProperty, "name-property", "p", geo.DefaultNameProperty, "Feature property holding the area name")

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Load an area file and report accepted and rejected areas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], nameProperty, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(validateCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve FILE LAT LON",
		Short: "Print the area containing a coordinate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(args[0], args[1], args[2], nameProperty, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(resolveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
