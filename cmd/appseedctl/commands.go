package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	appID    int
	seed     bool
	demoMode bool
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage apps",
}

var createAppCmd = &cobra.Command{
	Use:   "create [definition-file]",
	Short: "Create an app",
	Long:  `Create an app from a definition in JSON or YAML.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		definition, err := readDefinition(args[0])
		if err != nil {
			return err
		}
		var app map[string]interface{}
		if _, err = newClient().CreateApp(definition, demoMode, &app); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created app %v\n", app["id"])
		return nil
	},
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Manage resources",
}

var publishResourcesCmd = &cobra.Command{
	Use:   "publish [type] [file...]",
	Short: "Publish resources",
	Long: `Publish resources of a type from JSON, YAML or CSV files. A file holds a single
resource or a list of resources. With --seed the resources become seeds of the app.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resources := newClient().App(appID).Resources(args[0])
		if seed {
			resources = resources.AsSeed()
		}
		for _, file := range args[1:] {
			n, err := publish(resources, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: published %d %s resources\n", file, n, args[0])
		}
		return nil
	},
}

var reseedCmd = &cobra.Command{
	Use:   "reseed",
	Short: "Reseed a demo app",
	Long:  `Replace all ephemeral resources and assets of a demo app with fresh copies of its seeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newClient().App(appID).Reseed(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reseeded app %d\n", appID)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var version map[string]interface{}
		if _, err := newClient().RawGet("/version", &version); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(version)
	},
}

func init() {
	createAppCmd.Flags().BoolVar(&demoMode, "demo", false, "create the app in demo mode")
	appsCmd.AddCommand(createAppCmd)

	publishResourcesCmd.Flags().IntVar(&appID, "app", 0, "the app id")
	publishResourcesCmd.Flags().BoolVar(&seed, "seed", false, "publish seed resources")
	publishResourcesCmd.MarkFlagRequired("app")
	resourcesCmd.AddCommand(publishResourcesCmd)

	reseedCmd.Flags().IntVar(&appID, "app", 0, "the app id")
	reseedCmd.MarkFlagRequired("app")
}
