// Command appseedctl publishes resources to an appseed service and triggers reseeds
// of demo apps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/appseed/core/client"
)

var (
	serviceURL string
	token      string
)

var rootCmd = &cobra.Command{
	Use:           "appseedctl",
	Short:         "appseed command line interface",
	Long:          "Publishes apps and resources to an appseed service and reseeds demo apps.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newClient() client.Client {
	c := client.NewWithURL(serviceURL)
	if token != "" {
		c = c.WithToken(token)
	}
	return c
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serviceURL, "url", envOr("APPSEED_URL", "http://localhost:3000"), "URL of the appseed service")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("APPSEED_TOKEN"), "bearer token, needs the admin role for seeds and reseed")

	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(reseedCmd)
	rootCmd.AddCommand(versionCmd)
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
