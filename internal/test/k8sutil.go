// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"context"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// CreateTestNamespace creates a namespace with the given name, so an
// envtest-backed suite can isolate its resources instead of colliding with
// whatever else is running against the shared test apiserver.
func CreateTestNamespace(ctx context.Context, g *WithT, cli client.Client, name string) {
	ns := corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
		},
	}
	g.Expect(cli.Create(ctx, &ns)).To(Succeed())
}
