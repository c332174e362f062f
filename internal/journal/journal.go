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

// Package journal durably records the ordered sequence of topology
// operations issued against a logical node, as the lft/operations
// annotation on its backing StatefulSet. The reconciler replays this
// sequence whenever a node's pod is recreated.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandrekaihara/lft/api/topology"
)

// Journal durably stores and retrieves a workload's operation sequence.
type Journal struct {
	client    client.Client
	namespace string

	// writerLocks enforces the single-writer-per-workload invariant: two
	// concurrent Append calls must never interleave a read-modify-patch
	// cycle for the same workload.
	writerLocks sync.Map // map[string]*sync.Mutex
}

// New builds a Journal bound to a Kubernetes namespace.
func New(cl client.Client, namespace string) *Journal {
	return &Journal{client: cl, namespace: namespace}
}

func (j *Journal) lockFor(workloadName string) *sync.Mutex {
	lock, _ := j.writerLocks.LoadOrStore(workloadName, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Read returns the operations recorded for workloadName, in the order they
// were appended. It returns an empty slice, not an error, if the workload
// carries no journal annotation yet.
func (j *Journal) Read(ctx context.Context, workloadName string) ([]topology.Operation, error) {
	partialObjMeta := &metav1.PartialObjectMetadata{
		TypeMeta: metav1.TypeMeta{
			Kind:       "StatefulSet",
			APIVersion: "apps/v1",
		},
	}
	if err := j.client.Get(ctx, types.NamespacedName{Namespace: j.namespace, Name: workloadName}, partialObjMeta); err != nil {
		return nil, fmt.Errorf("error getting journal annotation for workload %s: %w", workloadName, err)
	}
	raw, ok := partialObjMeta.Annotations[topology.JournalAnnotationKey]
	if !ok || raw == "" {
		return nil, nil
	}
	var ops []topology.Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("error unmarshalling journal for workload %s: %w", workloadName, err)
	}
	return ops, nil
}

// Append durably records op as the next entry in workloadName's journal. It
// holds workloadName's writer lock across the read-modify-patch cycle so
// two concurrent Append calls for the same workload cannot race.
func (j *Journal) Append(ctx context.Context, workloadName string, op topology.Operation) error {
	lock := j.lockFor(workloadName)
	lock.Lock()
	defer lock.Unlock()

	ops, err := j.Read(ctx, workloadName)
	if err != nil {
		return err
	}
	ops = append(ops, op)

	encoded, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("error marshalling journal for workload %s: %w", workloadName, err)
	}

	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				topology.JournalAnnotationKey: string(encoded),
			},
		},
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("error marshalling journal patch for workload %s: %w", workloadName, err)
	}

	partialObjMeta := &metav1.PartialObjectMetadata{
		TypeMeta: metav1.TypeMeta{
			Kind:       "StatefulSet",
			APIVersion: "apps/v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      workloadName,
			Namespace: j.namespace,
		},
	}
	return j.client.Patch(ctx, partialObjMeta, client.RawPatch(types.StrategicMergePatchType, patchBytes))
}
