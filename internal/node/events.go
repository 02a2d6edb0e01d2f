package node

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/container"
)

// WatchContainerEvents reacts to containers dying outside the node's
// control. An idle or stopped instance is simply removed; an active one is
// marked Crashed so the in-flight invocation fails instead of waiting out
// its deadline on a dead container.
func WatchContainerEvents(ctx context.Context) {
	events, errs := container.Events(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			handleContainerExit(ev)
		case err := <-errs:
			if err != nil {
				log.Errorf("container event stream failed: %v", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func handleContainerExit(ev container.ContainerEvent) {
	ci, ok := InstanceByContainerID(ev.ID)
	if !ok {
		// not one of ours, or already removed
		return
	}
	if ci.consumeExpectedStop() {
		// exit caused by our own stop (idle sweep): the container stays
		// resumable
		log.Debugf("Container %s of instance %s stopped as requested", ev.ID, ci.ID)
		return
	}
	log.Warnf("Container %s of instance %s exited unexpectedly (%s, code %d)",
		ev.ID, ci.ID, ev.Type, ev.ExitCode)

	switch ci.State() {
	case StateActive, StateStarting:
		if err := ci.Transition(StateCrashed); err != nil {
			log.Warnf("%v", err)
			return
		}
		if OnInstanceCrashed != nil {
			OnInstanceCrashed(ci.ID)
		}
	case StateWarmIdle, StateStopping:
		DestroyInstance(ci)
	}
}
