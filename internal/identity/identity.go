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

// Package identity resolves the host PID backing a pod's single container,
// so the Node Facade can move veth ends into its network namespace and the
// Effector can nsenter into it. The container ID comes off the pod's status
// (apiserver); the PID comes from containerd directly, rather than shelling
// out to a cluster-specific CLI.
package identity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/alexandrekaihara/lft/internal/lfterrors"
)

// DefaultContainerdNamespace is the containerd namespace microk8s/moby
// places pod containers under.
const DefaultContainerdNamespace = "k8s.io"

var containerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+://([a-f0-9]+)$`)

// Resolver resolves a pod name to the PID of its single container's
// primary process, via the apiserver and a containerd client.
type Resolver struct {
	clientset kubernetes.Interface
	namespace string
	ctrd      *containerd.Client
	ctrdNs    string
}

// NewResolver builds a Resolver bound to a Kubernetes namespace and a
// containerd client reachable on the node the process runs on.
func NewResolver(clientset kubernetes.Interface, namespace string, ctrd *containerd.Client) *Resolver {
	return &Resolver{
		clientset: clientset,
		namespace: namespace,
		ctrd:      ctrd,
		ctrdNs:    DefaultContainerdNamespace,
	}
}

// PidOf returns the host PID of podName's single container. It returns an
// lfterrors-coded ErrIdentity error if the pod has no container status yet,
// the container ID does not parse, or containerd has no task for it.
func (r *Resolver) PidOf(ctx context.Context, podName string) (int, error) {
	pod, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return 0, lfterrors.WrapError(err, lfterrors.ErrIdentity, fmt.Sprintf("failed to read pod %s", podName))
	}

	containerID, err := extractContainerID(pod)
	if err != nil {
		return 0, lfterrors.WrapError(err, lfterrors.ErrIdentity, fmt.Sprintf("failed to extract container id for pod %s", podName))
	}

	ctx = namespaces.WithNamespace(ctx, r.ctrdNs)
	container, err := r.ctrd.LoadContainer(ctx, containerID)
	if err != nil {
		return 0, lfterrors.WrapError(err, lfterrors.ErrIdentity, fmt.Sprintf("failed to load container %s", containerID))
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, lfterrors.WrapError(err, lfterrors.ErrIdentity, fmt.Sprintf("no running task for container %s", containerID))
	}

	pid := int(task.Pid())
	if pid == 0 {
		return 0, lfterrors.WrapError(fmt.Errorf("task reported pid 0"), lfterrors.ErrIdentity, fmt.Sprintf("container %s", containerID))
	}
	return pid, nil
}

func extractContainerID(pod *corev1.Pod) (string, error) {
	if len(pod.Status.ContainerStatuses) == 0 {
		return "", fmt.Errorf("pod %s has no container statuses", pod.Name)
	}
	full := pod.Status.ContainerStatuses[0].ContainerID
	match := containerIDPattern.FindStringSubmatch(full)
	if match == nil {
		return "", fmt.Errorf("unexpected container id format: %q", full)
	}
	return match[1], nil
}
