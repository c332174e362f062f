// Copyright 2022 SAP SE or an SAP affiliate company
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"os"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/alexandrekaihara/lft/cmd"
)

var logger = ctrl.Log.WithName("lft")

func main() {
	var fs flag.FlagSet
	var command *cmd.Command

	args := os.Args[1:]
	checkArgs(args)
	parseCommand(args, &fs, &command)

	ctx := ctrl.SetupSignalHandler()

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := command.Run(ctx, fs.Args(), logger); err != nil {
		logger.Error(err, "command failed", "command", command.Name)
		os.Exit(1)
	}
}

func checkArgs(args []string) {
	switch {
	case len(args) < 1, args[0] == "-h", args[0] == "--help":
		cmd.PrintCliUsage(os.Stdout)
		os.Exit(0)
	case args[0] == "help":
		if len(args) == 1 {
			fmt.Fprintf(os.Stderr, "Incorrect usage. To get the CLI usage help use `-h | --help`. To get a command's help use `lft help <command-name>`.\n")
			os.Exit(2)
		}
		requestedCommand := args[1]
		if _, err := getCommand(requestedCommand); err != nil {
			os.Exit(2)
		}
		cmd.PrintHelp(requestedCommand, os.Stdout)
		os.Exit(0)
	}
}

func getCommand(cmdName string) (*cmd.Command, error) {
	supportedCmdNames := make([]string, 0, len(cmd.Commands))
	for _, c := range cmd.Commands {
		supportedCmdNames = append(supportedCmdNames, c.Name)
		if cmdName == c.Name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown command %s. Supported commands are: %v", cmdName, supportedCmdNames)
}

func parseCommand(args []string, fs *flag.FlagSet, command **cmd.Command) {
	requestedCmdName := args[0]
	found, err := getCommand(requestedCmdName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unexpected error when fetching matching command %s. This should have been checked earlier. Error: %v\n", requestedCmdName, err)
		os.Exit(2)
	}
	*command = found
	*fs = *flag.NewFlagSet(requestedCmdName, flag.ContinueOnError)
	fs.Usage = func() {}
	if found.AddFlags != nil {
		found.AddFlags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			cmd.PrintHelp(requestedCmdName, os.Stdout)
			os.Exit(0)
		}
		cmd.PrintHelp(requestedCmdName, os.Stderr)
		os.Exit(2)
	}
}
