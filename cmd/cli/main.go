package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eternalApril/moonkv/internal/client"
	"github.com/eternalApril/moonkv/internal/resp"
)

// newRootCmd builds the command tree. Each subcommand opens one connection,
// sends one command and prints the reply
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "moonkv-cli",
		Short: "Command line client for the moonkv server",
		Long: `Command line client for the moonkv server. The server address can be set with
--addr or the MOONKV_ADDR environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
	}

	root.PersistentFlags().String("addr", client.DefaultAddr, "server address")
	root.PersistentFlags().Duration("timeout", 5*time.Second, "timeout for connecting and for each command")

	root.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Get the value of a key",
			Args:  cobra.ExactArgs(1),
			RunE:  runCommand("GET"),
		},
		&cobra.Command{
			Use:   "set [key] [value]",
			Short: "Set a key to a value",
			Args:  cobra.ExactArgs(2),
			RunE:  runCommand("SET"),
		},
		&cobra.Command{
			Use:   "delete [key]",
			Short: "Delete a key",
			Args:  cobra.ExactArgs(1),
			RunE:  runCommand("DELETE"),
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Remove all keys",
			Args:  cobra.NoArgs,
			RunE:  runCommand("FLUSH"),
		},
		&cobra.Command{
			Use:   "mget [key...]",
			Short: "Get the values of several keys",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runCommand("MGET"),
		},
		&cobra.Command{
			Use:   "mset [key value...]",
			Short: "Set several keys at once",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runCommand("MSET"),
		},
		&cobra.Command{
			Use:   "exec [command] [args...]",
			Short: "Send an arbitrary command",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return execute(cmd, strings.ToUpper(args[0]), args[1:])
			},
		},
	)

	return root
}

func runCommand(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return execute(cmd, name, args)
	}
}

// execute prints error replies like any other reply, only transport failures fail the command
func execute(cmd *cobra.Command, name string, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	defer cancel()

	c, err := client.DialContext(ctx, viper.GetString("addr"))
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	params := make([]any, len(args))
	for i, a := range args {
		params[i] = a
	}

	reply, err := c.Execute(ctx, name, params...)
	if err != nil {
		var cmdErr *client.CommandError
		if !errors.As(err, &cmdErr) {
			return err
		}
		reply = resp.MakeError(cmdErr.Message)
	}

	return writeReply(cmd.OutOrStdout(), reply)
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("moonkv")
	viper.AutomaticEnv()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
