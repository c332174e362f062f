/*

Package test contains fixture helpers shared by the reconciler and journal
test suites.

Utilities in k8sresources.go build the StatefulSet/Pod shapes a cluster-backend
node is materialized as:
```
	ss := test.GenerateNodeStatefulSet("h1", "default", test.DefaultTestImage, nil)
	pod := test.GenerateNodePod("h1", "default", corev1.PodRunning, "10.1.2.3")
```

roles.go's InferRole derives a fixture node's Role from its logical name
(an "sw" prefix for a Switch, "ctrl" for a Controller, a Host otherwise), for
ordering-sensitive fixtures that care which role a node
plays without spelling it out on every literal.

Utilities in testenv.go back tests that need a real controller-runtime
envtest apiserver instead of a fake client:
```
	testEnv, err := test.CreateDefaultControllerTestEnv(scheme, nil)
	defer testEnv.Delete()
	k8sClient := testEnv.GetClient()

	ns := "ns-" + test.GenerateRandomAlphanumericString(g, 6)
	test.CreateTestNamespace(ctx, g, k8sClient, ns)
```
*/
package test
