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
	"fmt"

	"github.com/containerd/containerd"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/driver"
	"github.com/alexandrekaihara/lft/internal/util"
)

var upScheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(upScheme))
}

// UpCmd stores info about the up command.
var UpCmd = &Command{
	Name:      "up",
	UsageLine: "up --topology-file=<path> [--backend=k8s|docker] [--kubeconfig=<path>] [--containerd-socket=<path>]",
	ShortDesc: "Materializes a declared network topology and keeps it alive",
	LongDesc: `Reads a topology declaration file, instantiates every declared node
(as a single-replica StatefulSet/pod under the cluster backend, or as a local
docker container under the docker backend), runs each node's declared
operations in order, and, for the cluster backend, starts the topology
reconciler so the declaration survives pod recreation or apiserver
disconnects.

Flags:
	--topology-file
		Path of the YAML file declaring the topology's nodes and operations.
	--backend
		Which Node Facade implementation materializes the declaration. One of
		"k8s" (default) or "docker".
	--kubeconfig
		Path to the kubeconfig file. If not specified, defaults to the
		in-cluster service account.
	--containerd-socket
		Path to the containerd socket used to resolve pod PIDs. Only used by
		the k8s backend.
`,
	AddFlags: addUpFlags,
	Run:      runUp,
}

type upOptions struct {
	topologyFile     string
	backend          string
	kubeconfig       string
	containerdSocket string
}

var upOpts = upOptions{}

const defaultContainerdSocket = "/run/containerd/containerd.sock"

func addUpFlags(fs *flag.FlagSet) {
	fs.StringVar(&upOpts.topologyFile, "topology-file", "", "Path of the YAML file declaring the topology's nodes and operations")
	fs.StringVar(&upOpts.backend, "backend", string(driver.BackendCluster), "Node Facade backend to use: k8s or docker")
	fs.StringVar(&upOpts.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file. Defaults to the in-cluster service account")
	fs.StringVar(&upOpts.containerdSocket, "containerd-socket", defaultContainerdSocket, "Path to the containerd socket used to resolve pod PIDs")
}

func runUp(ctx context.Context, _ []string, logger logr.Logger) error {
	decl, err := util.ReadAndUnmarshall[topology.Declaration](upOpts.topologyFile)
	if err != nil {
		return fmt.Errorf("failed to read topology file %s: %w", upOpts.topologyFile, err)
	}
	if err := decl.Validate(); err != nil {
		return fmt.Errorf("invalid topology declaration: %w", err)
	}

	backend := driver.Backend(upOpts.backend)
	cfg := driver.Config{Backend: backend, Log: logger}

	if backend == driver.BackendCluster {
		restConfig, err := loadRestConfig(upOpts.kubeconfig)
		if err != nil {
			return err
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return fmt.Errorf("failed to build clientset: %w", err)
		}
		runtimeClient, err := client.New(restConfig, client.Options{Scheme: upScheme})
		if err != nil {
			return fmt.Errorf("failed to build controller-runtime client: %w", err)
		}
		containerdConn, err := containerd.New(upOpts.containerdSocket)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd at %s: %w", upOpts.containerdSocket, err)
		}
		defer containerdConn.Close()

		cfg.Clientset = clientset
		cfg.RuntimeClient = runtimeClient
		cfg.RestConfig = restConfig
		cfg.ContainerdConn = containerdConn
	}

	d := driver.New(cfg, *decl)
	return d.Run(ctx)
}

func loadRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}
