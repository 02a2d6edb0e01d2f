package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RemoteServerConf points the CLI at a running server.
type RemoteServerConf struct {
	Host string
	Port int
}

var ServerConfig RemoteServerConf

var rootCmd = &cobra.Command{
	Use:   "cumulus-cli",
	Short: "CLI utility for Cumulus",
	Long:  `CLI utility to interact with a Cumulus FaaS runtime.`,
}

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invokes a function",
	Run:   invoke,
}

var pollCmd = &cobra.Command{
	Use:   "poll <reqId>",
	Short: "Polls the result of an async invocation",
	Args:  cobra.ExactArgs(1),
	Run:   poll,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Registers a new function",
	Run:   create,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Updates the $LATEST definition of a function",
	Run:   update,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deletes a function, its versions and aliases",
	Run:   deleteFunction,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists registered functions",
	Run:   list,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publishes the current $LATEST as a numbered version",
	Run:   publish,
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Lists published versions of a function",
	Run:   versions,
}

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Creates or repoints an alias",
	Run:   createAlias,
}

var aliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Lists aliases of a function",
	Run:   listAliases,
}

var unaliasCmd = &cobra.Command{
	Use:   "unalias",
	Short: "Deletes an alias",
	Run:   deleteAlias,
}

var concurrencyCmd = &cobra.Command{
	Use:   "concurrency",
	Short: "Sets the reserved concurrency of a function",
	Run:   setConcurrency,
}

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Starts warm containers ahead of traffic",
	Run:   prewarm,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Scales a function to zero warm containers",
	Run:   drain,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the server status",
	Run:   status,
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Shows the container pool contents",
	Run:   poolStatus,
}

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Lists retained execution records of a function",
	Run:   executions,
}

var funcName, runtimeName, handler, customImage, src, qualifier, aliasName, description string
var memory int64
var cpuDemand float64
var reserved, count, timeout int
var params []string
var async, logTail, verbose bool

func Init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&ServerConfig.Host, "host", "H", ServerConfig.Host, "remote Cumulus host")
	rootCmd.PersistentFlags().IntVarP(&ServerConfig.Port, "port", "P", ServerConfig.Port, "remote Cumulus port")

	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	invokeCmd.Flags().StringVarP(&qualifier, "qualifier", "q", "", "version number or alias (optional)")
	invokeCmd.Flags().StringSliceVarP(&params, "param", "p", nil, "Function parameter: <name>:<value>")
	invokeCmd.Flags().BoolVarP(&async, "async", "a", false, "invoke asynchronously")
	invokeCmd.Flags().BoolVarP(&logTail, "log", "l", false, "return the tail of the container log")

	rootCmd.AddCommand(pollCmd)

	rootCmd.AddCommand(createCmd)
	for _, cmd := range []*cobra.Command{createCmd, updateCmd} {
		cmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
		cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "python310", "runtime for the function")
		cmd.Flags().StringVarP(&handler, "handler", "", "", "function handler")
		cmd.Flags().StringVarP(&customImage, "custom_image", "", "", "custom container image (only if runtime is 'custom')")
		cmd.Flags().Int64VarP(&memory, "memory", "m", 128, "max memory in MB for the function")
		cmd.Flags().Float64VarP(&cpuDemand, "cpu", "", 0.0, "estimated CPU demand for the function (e.g., 1.0 = 1 core)")
		cmd.Flags().StringVarP(&src, "src", "", "", "source of the function (single file, directory or TAR archive)")
		cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "execution timeout in seconds (0 = server default)")
	}
	rootCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(versionsCmd)
	versionsCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(aliasCmd)
	aliasCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	aliasCmd.Flags().StringVarP(&aliasName, "alias", "a", "", "alias name")
	aliasCmd.Flags().StringVarP(&qualifier, "version", "V", "", "target version number")
	aliasCmd.Flags().StringVarP(&description, "description", "d", "", "alias description")

	rootCmd.AddCommand(aliasesCmd)
	aliasesCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(unaliasCmd)
	unaliasCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	unaliasCmd.Flags().StringVarP(&aliasName, "alias", "a", "", "alias name")

	rootCmd.AddCommand(concurrencyCmd)
	concurrencyCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	concurrencyCmd.Flags().IntVarP(&reserved, "reserved", "r", -1, "reserved concurrency (-1 clears the limit)")

	rootCmd.AddCommand(prewarmCmd)
	prewarmCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	prewarmCmd.Flags().StringVarP(&qualifier, "qualifier", "q", "", "version number or alias (optional)")
	prewarmCmd.Flags().IntVarP(&count, "count", "n", 1, "number of containers to prewarm")

	rootCmd.AddCommand(drainCmd)
	drainCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(poolCmd)

	rootCmd.AddCommand(executionsCmd)
	executionsCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
