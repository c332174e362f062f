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

// Package dockerbackend is the container-runtime twin of the cluster
// backend's Node Facade: the same verb surface, meant to be driven by local
// docker containers instead of Kubernetes pods, mirroring the BACKEND
// switch in the distilled project's profissa_lft/driver.py. It is not the
// focus of this module (see spec.md §1 Non-goals); most verbs here return a
// not-implemented EffectorError rather than carry the full veth/bridge
// plumbing the cluster backend has, so the Driver Selector has a second,
// honestly-thin member instead of none.
package dockerbackend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/lfterrors"
	"github.com/alexandrekaihara/lft/internal/node"
)

// Node is the Docker-backed Facade implementation: one logical node backed
// by one local docker container rather than a Kubernetes pod.
type Node struct {
	decl          topology.NodeDeclaration
	containerName string
	log           logr.Logger
	ops           []topology.Operation
}

var _ node.Facade = (*Node)(nil)

// New builds a Docker-backed Node Facade for decl. It does not create the
// underlying container; call Instantiate for that.
//
// Unlike a pod name, which is namespaced by the cluster, a docker container
// name is global to the host's docker daemon. A short uuid suffix keeps
// repeated runs of the same declaration (e.g. across test processes) from
// colliding on a leftover container from a previous run.
func New(decl topology.NodeDeclaration, log logr.Logger) *Node {
	containerName := fmt.Sprintf("%s-%s", decl.Name, uuid.NewString()[:8])
	return &Node{
		decl:          decl,
		containerName: containerName,
		log:           log.WithName("dockerbackend").WithValues("name", decl.Name, "role", decl.Role, "container", containerName),
	}
}

func (n *Node) Name() string        { return n.decl.Name }
func (n *Node) PodName() string     { return n.containerName }
func (n *Node) Role() topology.Role { return n.decl.Role }

// Instantiate starts the backing docker container, granting it the same
// NET_ADMIN/NET_RAW capabilities the cluster backend's pods carry.
func (n *Node) Instantiate(ctx context.Context) error {
	image := n.decl.Image
	if image == "" {
		image = topology.DefaultImages[n.decl.Role]
	}
	_, err := n.dockerRun(ctx, "run", "-d", "--name", n.containerName,
		"--cap-add=NET_ADMIN", "--cap-add=NET_RAW", image, "sleep", "infinity")
	return err
}

// SetIP assigns ip/mask to interface inside the container's network
// namespace via docker exec, mirroring the cluster backend's ExecInPod use.
func (n *Node) SetIP(ctx context.Context, ip string, mask int, iface string, reconnect bool) error {
	if !reconnect {
		n.ops = append(n.ops, topology.Operation{Op: topology.TagSetIP, IP: ip, Mask: mask, Interface: iface})
	}
	if _, err := n.containerExec(ctx, fmt.Sprintf("ip addr add %s/%d dev %s", ip, mask, iface)); err != nil {
		return err
	}
	_, err := n.containerExec(ctx, fmt.Sprintf("ip link set %s up", iface))
	return err
}

// IP returns the container's own docker-assigned address.
func (n *Node) IP(ctx context.Context) (string, error) {
	out, err := n.dockerRun(ctx, "inspect", "-f", "{{.NetworkSettings.IPAddress}}", n.containerName)
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(out)
	if ip == "" {
		return "", &lfterrors.LftError{Code: lfterrors.ErrIdentity, Message: fmt.Sprintf("container %s has no assigned ip yet", n.containerName)}
	}
	return ip, nil
}

// Operations returns the operations recorded in this process's lifetime.
// The Docker backend does not durably journal: there is no StatefulSet
// annotation to anchor a journal to, and the backend is not replayed by the
// reconciler (cluster-only, per spec.md §1 Non-goals).
func (n *Node) Operations(_ context.Context) ([]topology.Operation, error) {
	return n.ops, nil
}

// EnsureBridge is a no-op: Docker's own bridge network already connects
// containers on the default network, so there is no Open vSwitch bridge to
// recreate here.
func (n *Node) EnsureBridge(_ context.Context) error {
	return nil
}

// Connect, ConnectPort, SetDefaultGateway, AddRoute, ConnectToInternet,
// SetController and InitController require moving veth ends between
// container network namespaces and standing up Open vSwitch/Ryu inside a
// plain docker container. That plumbing is the cluster backend's reason for
// being (see spec.md §1); the Docker twin reports a clear not-implemented
// EffectorError instead of silently no-opping.
func (n *Node) notImplemented(op string) error {
	return lfterrors.NewEffectorError(op, "docker backend does not implement this verb", -1, fmt.Errorf("not implemented"))
}

func (n *Node) Connect(_ context.Context, _ node.Facade, _, _ string, _ bool) error {
	return n.notImplemented("connect")
}

func (n *Node) ConnectPort(_ context.Context, _ string) error {
	return n.notImplemented("connectPort")
}

func (n *Node) SetDefaultGateway(_ context.Context, _, _ string, _ bool) error {
	return n.notImplemented("setDefaultGateway")
}

func (n *Node) AddRoute(_ context.Context, _ string, _ int, _ string, _ bool) error {
	return n.notImplemented("addRoute")
}

func (n *Node) ConnectToInternet(_ context.Context, _ string, _ int, _, _ string, _ bool) error {
	return n.notImplemented("connectToInternet")
}

func (n *Node) SetController(_ context.Context, _ string, _ int, _ string, _ bool) error {
	return n.notImplemented("setController")
}

func (n *Node) InitController(_ context.Context, _ string, _ int, _ string, _ bool) error {
	return n.notImplemented("initController")
}

func (n *Node) containerExec(ctx context.Context, shellCommand string) (string, error) {
	return n.dockerRun(ctx, "exec", n.containerName, "/bin/sh", "-c", shellCommand)
}

func (n *Node) dockerRun(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		rc := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		}
		return "", lfterrors.NewEffectorError(strings.Join(args, " "), stderr.String(), rc, err)
	}
	return stdout.String(), nil
}
