package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "apkbuild",
		Short: "Assemble reproducible APK v2 packages",
		Long: `Apkbuild turns an installation root, a metadata file and optional
lifecycle scriptlets into a byte-reproducible APK v2 package, optionally
signed with an apk RSA key.

It can also verify built packages and index a directory of packages into an
APKINDEX.tar.gz repository index.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewCreateCmd())
	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewIndexCmd())

	return rootCmd
}
