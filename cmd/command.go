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

package cmd

import (
	"context"
	"flag"

	"github.com/go-logr/logr"
)

var (
	// Commands lists every subcommand the CLI entrypoint supports.
	Commands = []*Command{
		UpCmd,
	}
)

// Command is one CLI subcommand. Unlike the prober/weeder subcommands this
// module's teacher defines, Run returns only an error: the driver program
// is a single process-wide pass over a topology declaration, not a
// controller-runtime manager serving a reconcile loop, so there is no
// manager.Manager to hand back to main.
type Command struct {
	Name      string
	UsageLine string
	ShortDesc string
	LongDesc  string
	AddFlags  func(fs *flag.FlagSet)
	Run       func(ctx context.Context, args []string, logger logr.Logger) error
}
