package cmd

import (
	"context"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/config"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/aa.yaml"
	rootCmd    = &cobra.Command{
		Use:   "ap-aa",
		Short: "ERC-4337 smart account CLI",
		Long: `Build, sign and submit user operations for a SimpleAccount.

The owner key, bundler and paymaster come from the config file, such as
"ap-aa send --to 0x... --value 1000" or "ap-aa receipt 0x..."
`,
		SilenceUsage: true,
	}

	// loadRuntime is replaced in tests.
	loadRuntime = func(ctx context.Context) (*config.Runtime, error) {
		c, err := config.NewConfig(configPath)
		if err != nil {
			return nil, err
		}
		return c.Build(ctx)
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "Path to config file")
}

func printer(cmd *cobra.Command) *pp.PrettyPrinter {
	p := pp.New()
	p.SetOutput(cmd.OutOrStdout())
	p.SetColoringEnabled(false)
	return p
}

// withRuntime builds the runtime for one command run and closes it after.
func withRuntime(fn func(cmd *cobra.Command, args []string, rt *config.Runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, args, rt)
	}
}
