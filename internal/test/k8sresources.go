package test

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"
)

// GenerateNodeStatefulSet generates a single-replica StatefulSet matching
// the shape the driver creates for one declared topology node: one pod,
// labeled for the reconciler's watch, carrying only the given annotations
// (none when nil); the journal package adds its own annotation by patch.
func GenerateNodeStatefulSet(name, namespace, imageName string, annotations map[string]string) *appsv1.StatefulSet {
	labels := map[string]string{"app": "k8s-node"}
	podName := name
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: name,
			Replicas:    pointer.Int32(1),
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Name:   podName,
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  name,
							Image: imageName,
							SecurityContext: &corev1.SecurityContext{
								Capabilities: &corev1.Capabilities{
									Add: []corev1.Capability{"NET_ADMIN", "NET_RAW"},
								},
							},
						},
					},
				},
			},
		},
	}
}

// GenerateNodePod generates the single pod a node's StatefulSet owns,
// named "<name>-0" per StatefulSet pod identity, in the given phase.
func GenerateNodePod(name, namespace string, phase corev1.PodPhase, podIP string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-0",
			Namespace: namespace,
			Labels:    map[string]string{"app": "k8s-node"},
		},
		Status: corev1.PodStatus{
			Phase: phase,
			PodIP: podIP,
		},
	}
}
