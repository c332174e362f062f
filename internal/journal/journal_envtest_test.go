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

package journal

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/test"
)

// TestAppendThenReadRoundTripsAgainstRealAPIServer exercises the same
// strategic-merge-patch-then-Get round trip as TestAppendThenReadRoundTrips,
// but against a real envtest apiserver instead of the fake client. The fake
// client's patch handling does not always agree with the real apiserver's
// (particularly for PartialObjectMetadata), so this is the regression test
// that would actually catch a divergence.
func TestAppendThenReadRoundTripsAgainstRealAPIServer(t *testing.T) {
	g := NewWithT(t)

	testEnv, err := test.CreateDefaultControllerTestEnv(clientgoscheme.Scheme, nil)
	g.Expect(err).To(BeNil())
	defer testEnv.Delete()

	ctx := context.Background()
	k8sClient := testEnv.GetClient()

	namespace := "ns-" + test.GenerateRandomAlphanumericString(g, 6)
	test.CreateTestNamespace(ctx, g, k8sClient, namespace)

	ss := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "h1", Namespace: namespace}}
	g.Expect(k8sClient.Create(ctx, ss)).To(Succeed())

	j := New(k8sClient, namespace)
	connect := topology.Operation{Op: topology.TagConnect, Peer: "sw1", InterfaceName: "eth0", PeerInterfaceName: "sw1-eth0"}
	setIP := topology.Operation{Op: topology.TagSetIP, IP: "10.0.0.1", Mask: 24, Interface: "eth0"}

	g.Expect(j.Append(ctx, "h1", connect)).To(Succeed())
	g.Expect(j.Append(ctx, "h1", setIP)).To(Succeed())

	ops, err := j.Read(ctx, "h1")
	g.Expect(err).To(BeNil())
	g.Expect(ops).To(HaveLen(2))
	g.Expect(ops[0]).To(Equal(connect))
	g.Expect(ops[1]).To(Equal(setIP))

	var persisted appsv1.StatefulSet
	g.Expect(k8sClient.Get(ctx, client.ObjectKeyFromObject(ss), &persisted)).To(Succeed())
	g.Expect(persisted.Annotations).To(HaveKey(topology.JournalAnnotationKey))
}
