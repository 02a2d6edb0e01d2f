package node

import (
	"container/list"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid"
	log "github.com/sirupsen/logrus"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/metrics"
	"github.com/cumulusfn/cumulus/utils"
)

// FunctionPool holds the container instances of one function. The idle list
// keeps the most recently released instance at the front, so warm claims
// reuse the instance most likely to still have a hot runtime.
type FunctionPool struct {
	idle     *list.List // *ContainerInstance
	busy     map[string]*ContainerInstance
	stopping *list.List // *ContainerInstance
}

func newFunctionPool() *FunctionPool {
	return &FunctionPool{
		idle:     list.New(),
		busy:     make(map[string]*ContainerInstance),
		stopping: list.New(),
	}
}

// getFunctionPool retrieves (or creates) the container pool for a function.
// Caller must hold the Resources lock.
func getFunctionPool(funcName string) *FunctionPool {
	if fp, ok := Resources.ContainerPools[funcName]; ok {
		return fp
	}
	fp := newFunctionPool()
	Resources.ContainerPools[funcName] = fp
	return fp
}

// AcquireWarmContainer claims a warm instance of the function, if any. It
// first scans the idle list, then tries to resume a stopped instance. The
// claimed instance is moved to the busy set in Active state.
//
// Instances whose guard is currently held by the idle sweep are skipped.
func AcquireWarmContainer(f *function.Function, version string) (*ContainerInstance, error) {
	Resources.Lock()
	defer Resources.Unlock()

	if Resources.AvailableCPUs < f.CPUDemand {
		log.Debugf("Not enough CPU to claim a warm container for %s", f.Name)
		return nil, OutOfResourcesErr
	}

	fp := getFunctionPool(f.Name)

	for elem := fp.idle.Front(); elem != nil; elem = elem.Next() {
		ci := elem.Value.(*ContainerInstance)
		if ci.Version != version {
			continue
		}
		if !ci.Claim() {
			// the idle sweep got here first
			continue
		}
		if err := ci.Transition(StateActive); err != nil {
			ci.Unclaim()
			continue
		}
		fp.idle.Remove(elem)
		fp.busy[ci.ID] = ci
		Resources.AvailableCPUs -= f.CPUDemand
		ci.Unclaim()
		metrics.SetWarmContainers(f.Name, fp.idle.Len())
		return ci, nil
	}

	// resume fast path: a stopped instance still has code and filesystem in
	// place, so resuming beats a full cold start
	for elem := fp.stopping.Front(); elem != nil; {
		next := elem.Next()
		ci := elem.Value.(*ContainerInstance)
		if ci.Version != version || !ci.Claim() {
			elem = next
			continue
		}
		if err := container.Resume(ci.ContID); err != nil {
			log.Warnf("Could not resume container %s: %v", ci.ContID, err)
			fp.stopping.Remove(elem)
			destroyInstanceLocked(ci, fp)
			ci.Unclaim()
			elem = next
			continue
		}
		if err := ci.Transition(StateWarmIdle); err != nil {
			ci.Unclaim()
			elem = next
			continue
		}
		ci.Transition(StateActive)
		fp.stopping.Remove(elem)
		fp.busy[ci.ID] = ci
		Resources.AvailableCPUs -= f.CPUDemand
		ci.Unclaim()
		return ci, nil
	}

	return nil, NoWarmFoundErr
}

// NewContainer creates a container for the function and registers it as a
// busy instance in Starting state. The container is not started yet: the
// caller starts it and waits for the runtime handshake.
func NewContainer(fun *function.Function, version string) (*ContainerInstance, error) {
	var image string
	if fun.Runtime == container.CUSTOM_RUNTIME {
		image = fun.CustomImage
	} else {
		runtime, ok := container.RuntimeToInfo[fun.Runtime]
		if !ok {
			return nil, fmt.Errorf("invalid runtime: %s", fun.Runtime)
		}
		image = runtime.Image
	}

	Resources.Lock()
	if Resources.AvailableMemMB < fun.MemoryMB {
		enoughMem, _ := dismissContainer(fun.MemoryMB)
		if !enoughMem {
			log.Debugf("Not enough memory for a new %s container", fun.Name)
			Resources.Unlock()
			return nil, OutOfResourcesErr
		}
	}
	if Resources.AvailableCPUs < fun.CPUDemand {
		log.Debugf("Not enough CPU for a new %s container", fun.Name)
		Resources.Unlock()
		return nil, OutOfResourcesErr
	}

	Resources.AvailableMemMB -= fun.MemoryMB
	Resources.AvailableCPUs -= fun.CPUDemand
	Resources.Unlock()

	instanceID := shortuuid.New()
	env := []string{
		"INSTANCE_ID=" + instanceID,
		fmt.Sprintf("RUNTIME_API=http://%s:%d", utils.GetIpAddress().String(),
			config.GetInt(config.RUNTIME_API_PORT, 9001)),
		"HANDLER=" + fun.Handler,
		"HANDLER_DIR=/app",
	}
	for k, v := range fun.Env {
		env = append(env, k+"="+v)
	}

	var cmd []string
	if runtime, ok := container.RuntimeToInfo[fun.Runtime]; ok {
		cmd = runtime.InvocationCmd
	}

	contID, err := container.NewContainer(image, fun.TarFunctionCode, &container.ContainerOptions{
		Cmd:      cmd,
		Env:      env,
		Name:     fmt.Sprintf("cumulus-%s-%s", fun.Name, instanceID),
		MemoryMB: fun.MemoryMB,
		CPUQuota: fun.CPUDemand,
	})

	Resources.Lock()
	defer Resources.Unlock()
	if err != nil {
		log.Errorf("Container creation failed for %s: %v", fun.Name, err)
		Resources.AvailableMemMB += fun.MemoryMB
		Resources.AvailableCPUs += fun.CPUDemand
		return nil, err
	}

	ci := newInstance(instanceID, contID, fun, version)
	fp := getFunctionPool(fun.Name)
	fp.busy[ci.ID] = ci
	Resources.instances[contID] = ci

	return ci, nil
}

// ReleaseContainer returns a busy instance to the idle list. The instance
// goes to the front: warm claims prefer the most recently active container.
func ReleaseContainer(ci *ContainerInstance) {
	Resources.Lock()
	defer Resources.Unlock()

	if err := ci.Transition(StateWarmIdle); err != nil {
		log.Warnf("%v", err)
		return
	}

	fp := getFunctionPool(ci.Function.Name)
	delete(fp.busy, ci.ID)
	fp.idle.PushFront(ci)
	Resources.AvailableCPUs += ci.Function.CPUDemand
	metrics.SetWarmContainers(ci.Function.Name, fp.idle.Len())
}

// DestroyInstance removes an instance from the node and destroys its
// container, releasing its resources.
func DestroyInstance(ci *ContainerInstance) {
	Resources.Lock()
	defer Resources.Unlock()
	fp := getFunctionPool(ci.Function.Name)
	removeFromLists(ci, fp)
	destroyInstanceLocked(ci, fp)
}

// destroyInstanceLocked finishes off an instance already detached from the
// idle and stopping lists. Caller must hold the Resources lock.
func destroyInstanceLocked(ci *ContainerInstance, fp *FunctionPool) {
	holdsCPU := false
	switch ci.State() {
	case StateStarting, StateActive, StateCrashed:
		holdsCPU = true
	}

	if err := ci.Transition(StateRemoved); err != nil {
		log.Warnf("%v", err)
	}

	delete(fp.busy, ci.ID)
	delete(Resources.instances, ci.ContID)

	if err := container.Destroy(ci.ContID); err != nil {
		log.Warnf("Could not destroy container %s: %v", ci.ContID, err)
	}

	Resources.AvailableMemMB += ci.Function.MemoryMB
	if holdsCPU {
		Resources.AvailableCPUs += ci.Function.CPUDemand
	}

	if OnInstanceRemoved != nil {
		OnInstanceRemoved(ci.ID)
	}
}

func removeFromLists(ci *ContainerInstance, fp *FunctionPool) {
	for elem := fp.idle.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*ContainerInstance) == ci {
			fp.idle.Remove(elem)
			return
		}
	}
	for elem := fp.stopping.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*ContainerInstance) == ci {
			fp.stopping.Remove(elem)
			return
		}
	}
}

type itemToDismiss struct {
	ci     *ContainerInstance
	pool   *FunctionPool
	elem   *list.Element
	memory int64
}

// dismissContainer frees memory for a new container by destroying idle
// instances of other functions, least recently used first. Two phases: first
// collect candidates, then destroy them only if together they free enough.
// Caller must hold the Resources lock.
func dismissContainer(requiredMemoryMB int64) (bool, error) {
	var cleanedMB int64 = 0
	var toDismiss []itemToDismiss

	for _, fp := range Resources.ContainerPools {
		for elem := fp.stopping.Front(); elem != nil && cleanedMB < requiredMemoryMB; elem = elem.Next() {
			ci := elem.Value.(*ContainerInstance)
			if !ci.Claim() {
				continue
			}
			toDismiss = append(toDismiss, itemToDismiss{ci, fp, elem, ci.Function.MemoryMB})
			cleanedMB += ci.Function.MemoryMB
		}
		// least recently used first
		for elem := fp.idle.Back(); elem != nil && cleanedMB < requiredMemoryMB; elem = elem.Prev() {
			ci := elem.Value.(*ContainerInstance)
			if !ci.Claim() {
				continue
			}
			toDismiss = append(toDismiss, itemToDismiss{ci, fp, elem, ci.Function.MemoryMB})
			cleanedMB += ci.Function.MemoryMB
		}
		if cleanedMB >= requiredMemoryMB {
			break
		}
	}

	if cleanedMB < requiredMemoryMB {
		for _, item := range toDismiss {
			item.ci.Unclaim()
		}
		return false, nil
	}

	for _, item := range toDismiss {
		item.pool.idle.Remove(item.elem)
		item.pool.stopping.Remove(item.elem)
		destroyInstanceLocked(item.ci, item.pool)
		item.ci.Unclaim()
	}
	return true, nil
}

// DeleteExpiredContainers is the idle sweep run by the watchdog. Instances
// idle beyond the soft threshold are stopped but kept resumable; instances
// idle beyond the hard threshold are removed. Instances whose guard is held
// by a racing claim are skipped and revisited on the next sweep.
func DeleteExpiredContainers() {
	now := time.Now()
	softIdle := time.Duration(config.GetInt(config.IDLE_SOFT_MS, 60000)) * time.Millisecond
	hardIdle := time.Duration(config.GetInt(config.IDLE_HARD_MS, 600000)) * time.Millisecond

	Resources.Lock()
	defer Resources.Unlock()

	for funcName, fp := range Resources.ContainerPools {
		for elem := fp.idle.Front(); elem != nil; {
			next := elem.Next()
			ci := elem.Value.(*ContainerInstance)
			idleFor := ci.IdleFor(now)
			if idleFor >= softIdle && ci.Claim() {
				if idleFor >= hardIdle {
					log.Debugf("watchdog: removing idle container %s", ci.ID)
					fp.idle.Remove(elem)
					destroyInstanceLocked(ci, fp)
				} else if err := ci.Transition(StateStopping); err == nil {
					log.Debugf("watchdog: stopping idle container %s", ci.ID)
					ci.markExpectedStop()
					if err := container.Stop(ci.ContID); err != nil {
						log.Warnf("Could not stop container %s: %v", ci.ContID, err)
						fp.idle.Remove(elem)
						destroyInstanceLocked(ci, fp)
					} else {
						fp.idle.Remove(elem)
						fp.stopping.PushBack(ci)
					}
				}
				ci.Unclaim()
			}
			elem = next
		}

		for elem := fp.stopping.Front(); elem != nil; {
			next := elem.Next()
			ci := elem.Value.(*ContainerInstance)
			if ci.IdleFor(now) >= hardIdle && ci.Claim() {
				log.Debugf("watchdog: removing stopped container %s", ci.ID)
				fp.stopping.Remove(elem)
				destroyInstanceLocked(ci, fp)
				ci.Unclaim()
			}
			elem = next
		}

		metrics.SetWarmContainers(funcName, fp.idle.Len())
	}
}

// ShutdownWarmContainersFor drains the idle and stopped instances of a
// function, scaling it to zero. Busy instances finish their work and are
// destroyed on release by the caller.
func ShutdownWarmContainersFor(funcName string) int {
	Resources.Lock()
	defer Resources.Unlock()

	fp, ok := Resources.ContainerPools[funcName]
	if !ok {
		return 0
	}

	count := 0
	for _, l := range []*list.List{fp.idle, fp.stopping} {
		for elem := l.Front(); elem != nil; {
			next := elem.Next()
			ci := elem.Value.(*ContainerInstance)
			if ci.Claim() {
				l.Remove(elem)
				destroyInstanceLocked(ci, fp)
				ci.Unclaim()
				count++
			}
			elem = next
		}
	}
	metrics.SetWarmContainers(funcName, fp.idle.Len())
	return count
}

// ShutdownAllContainers destroys all containers (usually on termination).
func ShutdownAllContainers() {
	Resources.Lock()
	defer Resources.Unlock()

	for _, fp := range Resources.ContainerPools {
		for _, l := range []*list.List{fp.idle, fp.stopping} {
			for elem := l.Front(); elem != nil; {
				next := elem.Next()
				ci := elem.Value.(*ContainerInstance)
				l.Remove(elem)
				destroyInstanceLocked(ci, fp)
				elem = next
			}
		}
		for _, ci := range fp.busy {
			destroyInstanceLocked(ci, fp)
		}
	}
}

// WarmStatus returns, for each function, the number of idle warm containers.
func WarmStatus() map[string]int {
	Resources.RLock()
	defer Resources.RUnlock()
	warmPool := make(map[string]int)
	for funcName, fp := range Resources.ContainerPools {
		warmPool[funcName] = fp.idle.Len()
	}
	return warmPool
}

// InstanceStatus describes one instance in a pool snapshot.
type InstanceStatus struct {
	ID        string
	State     State
	Version   string
	IdleForMs int64
}

// PoolStatus is the per-function part of a pool snapshot.
type PoolStatus struct {
	Function  string
	Idle      int
	Busy      int
	Stopping  int
	Instances []InstanceStatus
}

// PoolSnapshot reports the current contents of every function pool.
func PoolSnapshot() []PoolStatus {
	now := time.Now()
	Resources.RLock()
	defer Resources.RUnlock()

	out := make([]PoolStatus, 0, len(Resources.ContainerPools))
	for funcName, fp := range Resources.ContainerPools {
		st := PoolStatus{
			Function: funcName,
			Idle:     fp.idle.Len(),
			Busy:     len(fp.busy),
			Stopping: fp.stopping.Len(),
		}
		for _, l := range []*list.List{fp.idle, fp.stopping} {
			for elem := l.Front(); elem != nil; elem = elem.Next() {
				ci := elem.Value.(*ContainerInstance)
				st.Instances = append(st.Instances, InstanceStatus{
					ID: ci.ID, State: ci.State(), Version: ci.Version,
					IdleForMs: ci.IdleFor(now).Milliseconds(),
				})
			}
		}
		for _, ci := range fp.busy {
			st.Instances = append(st.Instances, InstanceStatus{
				ID: ci.ID, State: ci.State(), Version: ci.Version,
				IdleForMs: ci.IdleFor(now).Milliseconds(),
			})
		}
		out = append(out, st)
	}
	return out
}
