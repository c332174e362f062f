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

package node

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakeclientset "k8s.io/client-go/kubernetes/fake"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/journal"
)

// fakeEffector records every command it is asked to run, so tests can
// assert on the exact sequence Connect/SetIP/etc. issue.
type fakeEffector struct {
	calls     []string
	fail      map[string]bool
	responses map[string]string
}

func newFakeEffector() *fakeEffector {
	return &fakeEffector{fail: map[string]bool{}, responses: map[string]string{}}
}

func (f *fakeEffector) HostRun(_ context.Context, command string) (string, error) {
	f.calls = append(f.calls, "host:"+command)
	if command == "ip route show default | awk '{print $5}'" {
		return "eth0\n", nil
	}
	if f.fail[command] {
		return "", &testFailure{command}
	}
	return "", nil
}

func (f *fakeEffector) EnterNetns(_ context.Context, pid int, command string) (string, error) {
	f.calls = append(f.calls, "netns:"+command)
	return "", nil
}

func (f *fakeEffector) ExecInPod(_ context.Context, podName, command string) (string, error) {
	f.calls = append(f.calls, "pod:"+podName+":"+command)
	if f.fail[command] {
		return "", &testFailure{command}
	}
	return f.responses[command], nil
}

func (f *fakeEffector) GenerateClusterCredentials(_ context.Context, path string) (string, error) {
	return path, nil
}

type testFailure struct{ command string }

func (t *testFailure) Error() string { return "failed: " + t.command }

// fakeResolver hands out a fixed PID per pod name without touching
// containerd, which cannot be faked behind an interface boundary.
type fakeResolver struct {
	pids map[string]int
}

func (f *fakeResolver) PidOf(_ context.Context, podName string) (int, error) {
	if pid, ok := f.pids[podName]; ok {
		return pid, nil
	}
	return 0, &testFailure{"no pid for " + podName}
}

func newTestNode(decl topology.NodeDeclaration, pid int) (*Node, *fakeEffector) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: decl.Name + "-0", Namespace: "default"},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			PodIP:             "10.1.2.3",
			ContainerStatuses: []corev1.ContainerStatus{{ContainerID: "containerd://deadbeef"}},
			Conditions:        []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
	clientset := fakeclientset.NewSimpleClientset(pod)
	ss := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: decl.Name, Namespace: "default"}}
	cl := fakeclient.NewClientBuilder().WithObjects(ss).Build()
	j := journal.New(cl, "default")
	eff := newFakeEffector()
	resolver := &fakeResolver{pids: map[string]int{decl.Name + "-0": pid}}
	n := New(decl, "default", clientset, eff, resolver, j, logr.Discard())
	return n, eff
}

func TestSetIPAppendsJournalAndSetsAddress(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.SetIP(context.Background(), "10.0.0.1", 24, "eth0", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("pod:h1-0:ip addr add 10.0.0.1/24 dev eth0"))
	g.Expect(eff.calls).To(ContainElement("pod:h1-0:ip link set eth0 up"))

	ops, err := n.journal.Read(context.Background(), "h1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(1))
	g.Expect(ops[0]).To(Equal(topology.Operation{Op: topology.TagSetIP, IP: "10.0.0.1", Mask: 24, Interface: "eth0"}))
}

func TestSetIPReconnectSkipsJournalAppend(t *testing.T) {
	g := NewWithT(t)
	n, _ := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.SetIP(context.Background(), "10.0.0.1", 24, "eth0", true)
	g.Expect(err).To(BeNil())

	ops, err := n.journal.Read(context.Background(), "h1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(BeEmpty())
}

func TestSetControllerRejectsNonSwitchRole(t *testing.T) {
	g := NewWithT(t)
	n, _ := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.SetController(context.Background(), "10.0.0.5", 6653, "tcp", false)
	g.Expect(err).ToNot(BeNil())
}

func TestSetControllerIssuesOvsCommandsForSwitch(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "sw1", Role: topology.RoleSwitch}, 222)

	err := n.SetController(context.Background(), "10.0.0.5", 6653, "tcp", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("pod:sw1-0:ovs-vsctl set-controller sw1 tcp:10.0.0.5:6653"))

	ops, err := n.journal.Read(context.Background(), "sw1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(1))
	g.Expect(ops[0].Op).To(Equal(topology.TagSetController))
}

func TestIPReturnsPodClusterIP(t *testing.T) {
	g := NewWithT(t)
	n, _ := newTestNode(topology.NodeDeclaration{Name: "c1", Role: topology.RoleController}, 333)

	ip, err := n.IP(context.Background())
	g.Expect(err).To(BeNil())
	g.Expect(ip).To(Equal("10.1.2.3"))
}

func TestAddRouteAppendsAddRouteTagAndIssuesRouteCommand(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.AddRoute(context.Background(), "10.0.1.0", 24, "eth0", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("netns:ip route add 10.0.1.0/24 dev eth0"))

	ops, err := n.journal.Read(context.Background(), "h1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(1))
	g.Expect(ops[0].Op).To(Equal(topology.TagAddRoute))
}

func TestSetDefaultGatewayDeletesExistingDefaultFirst(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.SetDefaultGateway(context.Background(), "10.0.0.254", "eth0", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("netns:ip route del default"))
	g.Expect(eff.calls).To(ContainElement("netns:ip route add default via 10.0.0.254 dev eth0"))
}

func TestInitControllerAppendsJournalWithIPFieldAndLaunchesRyu(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "c1", Role: topology.RoleController}, 333)
	eff.responses["ss -lntp"] = "LISTEN 0 128 0.0.0.0:6653 0.0.0.0:* users:((\"ryu-manager\",pid=1,fd=3))\n"

	err := n.InitController(context.Background(), "10.0.0.9", 6653, "app.py", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("pod:c1-0:nohup ryu-manager --ofp-tcp-listen-port 6653 app.py > /tmp/ryu.log 2>&1 &"))

	ops, err := n.journal.Read(context.Background(), "c1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(1))
	g.Expect(ops[0]).To(Equal(topology.Operation{Op: topology.TagInitController, IP: "10.0.0.9", Port: 6653, AppPath: "app.py"}))
}

func TestInitControllerRejectsNonControllerRole(t *testing.T) {
	g := NewWithT(t)
	n, _ := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.InitController(context.Background(), "10.0.0.9", 6653, "app.py", false)
	g.Expect(err).ToNot(BeNil())
}

func TestConnectToInternetJournalsAndWiresHostVeth(t *testing.T) {
	g := NewWithT(t)
	n, eff := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	err := n.ConnectToInternet(context.Background(), "10.0.0.1", 24, "eth0", "h1-inet0", false)
	g.Expect(err).To(BeNil())
	g.Expect(eff.calls).To(ContainElement("host:ip link add eth0 type veth peer name h1-inet0"))
	g.Expect(eff.calls).To(ContainElement("host:ip addr add 10.0.0.1/24 dev h1-inet0"))
	g.Expect(eff.calls).To(ContainElement("host:iptables -t nat -I POSTROUTING -o eth0 -j MASQUERADE"))

	ops, err := n.journal.Read(context.Background(), "h1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(1))
	g.Expect(ops[0]).To(Equal(topology.Operation{Op: topology.TagConnectToInternet, IP: "10.0.0.1", Mask: 24, NodeIface: "eth0", HostIface: "h1-inet0"}))
}

func TestConnectWiresVethAndJournalsBothEnds(t *testing.T) {
	g := NewWithT(t)
	sw, swEff := newTestNode(topology.NodeDeclaration{Name: "sw1", Role: topology.RoleSwitch}, 222)
	h1, _ := newTestNode(topology.NodeDeclaration{Name: "h1", Role: topology.RoleHost}, 111)

	shared := &fakeResolver{pids: map[string]int{"sw1-0": 222, "h1-0": 111}}
	h1.resolver = shared
	sw.resolver = shared
	h1.effector = swEff
	// Both nodes share one Journal holding both workloads, as every node the
	// driver builds does: Connect records the peer's entry through it too.
	sharedJournal := journal.New(fakeclient.NewClientBuilder().WithObjects(
		&appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "h1", Namespace: "default"}},
		&appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "sw1", Namespace: "default"}},
	).Build(), "default")
	h1.journal = sharedJournal
	sw.journal = sharedJournal

	err := h1.Connect(context.Background(), sw, "eth0", "sw1-eth0", false)
	g.Expect(err).To(BeNil())
	g.Expect(swEff.calls).To(ContainElement("host:ip link add eth0 type veth peer name sw1-eth0"))
	g.Expect(swEff.calls).To(ContainElement("pod:sw1-0:ovs-vsctl add-port sw1 sw1-eth0"))

	h1Ops, err := h1.journal.Read(context.Background(), "h1")
	g.Expect(err).To(BeNil())
	g.Expect(h1Ops).To(HaveLen(1))
	g.Expect(h1Ops[0].Op).To(Equal(topology.TagConnect))

	swOps, err := sw.journal.Read(context.Background(), "sw1")
	g.Expect(err).To(BeNil())
	g.Expect(swOps).To(HaveLen(1))
	g.Expect(swOps[0].Peer).To(Equal("h1"))
}
