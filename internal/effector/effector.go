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

// Package effector executes the host-level and in-pod shell commands the
// Node Facade issues to build veth links, assign addresses, install routes
// and drive Open vSwitch. Every primitive returns an
// *lfterrors.EffectorError on non-zero exit, carrying the captured stderr
// and exit code.
package effector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/alexandrekaihara/lft/internal/lfterrors"
)

// Effector is the single place every shell command the Node Facade needs
// funnels through. clusterEffector, backing the cluster backend, is its only
// implementation; the docker backend runs its docker commands itself.
type Effector interface {
	// HostRun runs command on the node this process itself executes on,
	// the way veth pairs are created and a ConnectToInternet host-side veth
	// end is configured.
	HostRun(ctx context.Context, command string) (string, error)
	// EnterNetns runs command inside the network namespace identified by
	// pid, via nsenter.
	EnterNetns(ctx context.Context, pid int, command string) (string, error)
	// ExecInPod runs command inside podName's single container, via the
	// apiserver's exec subresource.
	ExecInPod(ctx context.Context, podName, command string) (string, error)
	// GenerateClusterCredentials writes a kubeconfig usable by the node's
	// own in-process client and returns its path.
	GenerateClusterCredentials(ctx context.Context, path string) (string, error)
}

// clusterEffector is the Effector backing the Kubernetes ClusterBackend: it
// runs host-local commands via os/exec and in-pod commands via the
// apiserver exec subresource.
type clusterEffector struct {
	restConfig *rest.Config
	clientset  kubernetes.Interface
	namespace  string
	log        logr.Logger
}

// New builds an Effector bound to a namespace and a Kubernetes clientset,
// which ExecInPod uses to reach the apiserver's exec subresource.
func New(clientset kubernetes.Interface, restConfig *rest.Config, namespace string, log logr.Logger) Effector {
	return &clusterEffector{
		restConfig: restConfig,
		clientset:  clientset,
		namespace:  namespace,
		log:        log.WithName("effector"),
	}
}

func (e *clusterEffector) HostRun(ctx context.Context, command string) (string, error) {
	return runLocal(ctx, "host_run", command)
}

func (e *clusterEffector) EnterNetns(ctx context.Context, pid int, command string) (string, error) {
	wrapped := fmt.Sprintf("nsenter -t %d -n %s", pid, command)
	return runLocal(ctx, "enter_netns", wrapped)
}

func runLocal(ctx context.Context, op, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		rc := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		}
		return "", lfterrors.NewEffectorError(op, stderr.String(), rc, err)
	}
	return stdout.String(), nil
}

func (e *clusterEffector) ExecInPod(ctx context.Context, podName, command string) (string, error) {
	req := e.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(e.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"/bin/bash", "-c", command},
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(e.restConfig, "POST", req.URL())
	if err != nil {
		return "", lfterrors.WrapError(err, lfterrors.ErrEffector, "failed to create SPDY executor")
	}

	var stdout, stderr bytes.Buffer
	streamErr := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if streamErr != nil {
		rc := -1
		var exitErr utilexec.ExitError
		if errors.As(streamErr, &exitErr) {
			rc = exitErr.ExitStatus()
		}
		return "", lfterrors.NewEffectorError("exec_in_pod", stderr.String(), rc, streamErr)
	}
	return stdout.String(), nil
}

func (e *clusterEffector) GenerateClusterCredentials(ctx context.Context, path string) (string, error) {
	command := fmt.Sprintf("microk8s config > %s", path)
	if _, err := runLocal(ctx, "generate_cluster_credentials", command); err != nil {
		return "", err
	}
	return path, nil
}
