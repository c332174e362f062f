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

// Package reconciler watches the pods backing a topology's nodes and
// replays each node's durable operation journal whenever its pod is
// recreated or the watch loses its connection to the apiserver. Switches
// are always replayed before every other role, since hosts and controllers
// connect to a switch's bridge.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gardener/gardener/pkg/utils/flow"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/alexandrekaihara/lft/api/topology"
	"github.com/alexandrekaihara/lft/internal/lfterrors"
	"github.com/alexandrekaihara/lft/internal/node"
	"github.com/alexandrekaihara/lft/internal/util"
)

// watchCreationRetryInterval is how long createWatch waits between attempts
// to open a fresh pod watch against the apiserver.
const watchCreationRetryInterval = 2 * time.Second

// replayWaitTimeout bounds how long the replay of a single node waits for
// its pod to report Running before giving up on that node for this round.
const replayWaitTimeout = 60 * time.Second

const replayPollInterval = time.Second

// trackingRecord is the in-memory bookkeeping entry for one pod's lifecycle,
// mirroring the distilled source's per-node watch state.
type trackingRecord struct {
	uid            types.UID
	lastPhase      corev1.PodPhase
	recreateCount  int
	redoOperations bool
}

// Reconciler watches every pod matching a label selector within a namespace
// and, on pod recreation or watch-stream loss, replays the recorded
// operations of every node it has been told to track.
type Reconciler struct {
	mu sync.Mutex

	clientset     kubernetes.Interface
	namespace     string
	labelSelector string
	log           logr.Logger

	nodes    map[string]*node.Node
	tracking map[string]*trackingRecord
}

// New builds a Reconciler. Callers register each topology Node with
// Register, then run Start in its own goroutine.
func New(clientset kubernetes.Interface, namespace, labelSelector string, log logr.Logger) *Reconciler {
	return &Reconciler{
		clientset:     clientset,
		namespace:     namespace,
		labelSelector: labelSelector,
		nodes:         make(map[string]*node.Node),
		tracking:      make(map[string]*trackingRecord),
		log:           log.WithName("reconciler"),
	}
}

// Register makes n a candidate for replay once its pod is observed on the
// watch. Registering a Node whose pod name is already tracked replaces the
// prior Node for that pod.
func (r *Reconciler) Register(n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.PodName()] = n
}

// Start runs the pod watch loop until ctx is cancelled. It blocks; run it in
// its own goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info("starting topology reconciler watch", "namespace", r.namespace, "labelSelector", r.labelSelector)
	var w watch.Interface
	r.createWatch(ctx, &w)
	defer func() {
		if w != nil {
			w.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.log.V(1).Info("exiting reconciler watch, context done")
			return
		case event, ok := <-w.ResultChan():
			if !ok {
				r.log.Info("reconciler watch channel closed, marking every tracked node dirty and reconnecting")
				r.markAllDirty()
				w.Stop()
				r.createWatch(ctx, &w)
				continue
			}
			if event.Type != watch.Added && event.Type != watch.Modified {
				continue
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			r.handlePodEvent(ctx, pod)
		}
	}
}

func (r *Reconciler) createWatch(ctx context.Context, w *watch.Interface) {
	util.RetryOnError(ctx, r.log, "create reconciler pod watch", func() error {
		created, err := r.clientset.CoreV1().Pods(r.namespace).Watch(ctx, metav1.ListOptions{LabelSelector: r.labelSelector})
		if err != nil {
			return err
		}
		*w = created
		return nil
	}, watchCreationRetryInterval)
}

// handlePodEvent updates the tracking record for pod and, if the update
// uncovered a pod recreation, dispatches a replay round.
func (r *Reconciler) handlePodEvent(ctx context.Context, pod *corev1.Pod) {
	r.mu.Lock()
	podName := pod.Name
	rec, tracked := r.tracking[podName]
	if !tracked {
		rec = &trackingRecord{uid: pod.UID, lastPhase: pod.Status.Phase}
		r.tracking[podName] = rec
	} else if rec.uid != pod.UID {
		rec.uid = pod.UID
		rec.recreateCount++
		rec.redoOperations = true
		// A recreated pod invalidates whatever wiring the rest of the
		// topology had against its replacement: every other tracked node
		// must redo its operations too, so veths and bridge ports land on
		// the new pod's network namespace.
		for _, other := range r.tracking {
			other.redoOperations = true
		}
	}
	rec.lastPhase = pod.Status.Phase
	dirty := r.dirtyPodNamesLocked()
	r.mu.Unlock()

	if len(dirty) == 0 {
		return
	}
	r.replay(ctx, dirty)
}

func (r *Reconciler) dirtyPodNamesLocked() []string {
	var names []string
	for name, rec := range r.tracking {
		if rec.redoOperations {
			names = append(names, name)
		}
	}
	return names
}

func (r *Reconciler) markAllDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.tracking {
		rec.redoOperations = true
	}
}

// replay rebuilds the given pods' recorded operations, switches first, then
// every other role, using a two-level flow.Graph so all switches finish
// (and their bridges exist) before anything tries to connect to them.
func (r *Reconciler) replay(ctx context.Context, dirtyPodNames []string) {
	r.mu.Lock()
	var switchNodes, otherNodes []*node.Node
	for _, podName := range dirtyPodNames {
		n, ok := r.nodes[podName]
		if !ok {
			continue
		}
		if n.Role() == topology.RoleSwitch {
			switchNodes = append(switchNodes, n)
		} else {
			otherNodes = append(otherNodes, n)
		}
	}
	r.mu.Unlock()

	if len(switchNodes) == 0 && len(otherNodes) == 0 {
		return
	}

	var skipped sync.Map
	g := flow.NewGraph("replay topology operations")
	var dependencies flow.TaskIDs
	if len(switchNodes) > 0 {
		taskID := g.Add(flow.Task{
			Name: "replay switches",
			Fn:   r.replayNodesFn(switchNodes, &skipped),
		})
		dependencies = flow.NewTaskIDs(taskID)
	}
	if len(otherNodes) > 0 {
		g.Add(flow.Task{
			Name:         "replay hosts and controllers",
			Fn:           r.replayNodesFn(otherNodes, &skipped),
			Dependencies: dependencies,
		})
	}

	if err := g.Compile().Run(ctx, flow.Opts{}); err != nil {
		r.log.Error(err, "error replaying topology operations, will retry on the next watch event")
		return
	}

	r.mu.Lock()
	for _, podName := range dirtyPodNames {
		if _, wasSkipped := skipped.Load(podName); wasSkipped {
			continue
		}
		if rec, ok := r.tracking[podName]; ok {
			rec.redoOperations = false
		}
	}
	r.mu.Unlock()
}

// replayNodesFn builds a flow.TaskFn that replays every node in nodes. More
// than one node at the same dependency level are replayed concurrently.
func (r *Reconciler) replayNodesFn(nodes []*node.Node, skipped *sync.Map) flow.TaskFn {
	taskFns := make([]flow.TaskFn, 0, len(nodes))
	for _, n := range nodes {
		n := n
		taskFns = append(taskFns, func(ctx context.Context) error {
			return r.replayNode(ctx, n, skipped)
		})
	}
	if len(taskFns) == 1 {
		return taskFns[0]
	}
	return flow.Parallel(taskFns...)
}

// replayNode waits for n's pod to report Running, then reapplies every
// operation recorded in its journal, in order, with reconnect=true so the
// replay does not append duplicate journal entries. If the pod does not
// reach Running in time, n's pod name is stored in skipped so its dirty flag
// stays set for the next round.
func (r *Reconciler) replayNode(ctx context.Context, n *node.Node, skipped *sync.Map) error {
	ready := util.RetryUntilPredicate(ctx, r.log, "waitForRunningBeforeReplay", func() bool {
		pod, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, n.PodName(), metav1.GetOptions{})
		if err != nil {
			return false
		}
		return pod.Status.Phase == corev1.PodRunning
	}, replayWaitTimeout, replayPollInterval)
	if !ready {
		r.log.Info("timed out waiting for pod to reach Running, skipping replay this round", "pod", n.PodName())
		skipped.Store(n.PodName(), true)
		return nil
	}

	if err := n.EnsureBridge(ctx); err != nil {
		return err
	}
	ops, err := n.Operations(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		err := node.Apply(ctx, n, r.resolveFacadeByName, op, true)
		if err == nil {
			continue
		}
		if lfterrors.Code(err) == lfterrors.ErrUnknownOperation {
			r.log.Info("unknown operation tag recorded in journal, skipping", "pod", n.PodName(), "op", op.Op)
			continue
		}
		r.log.Error(err, "error reapplying operation", "pod", n.PodName(), "op", op.Op)
		return err
	}
	return nil
}

// resolveFacadeByName satisfies node.PeerResolver for replay: it looks up a
// registered Node by logical workload name.
func (r *Reconciler) resolveFacadeByName(name string) (node.Facade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name+"-0"]
	if !ok {
		return nil, fmt.Errorf("reconciler: no registered node for workload %s", name)
	}
	return n, nil
}
