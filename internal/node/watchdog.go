package node

import (
	"sync"
	"time"

	"github.com/cumulusfn/cumulus/internal/config"
)

type watchdog struct {
	Interval time.Duration
	stop     chan bool
}

var watchdogInstance *watchdog
var watchdogLock = &sync.Mutex{}

// StartWatchdog launches the idle sweep loop. Singleton: repeated calls
// return the running instance.
func StartWatchdog() *watchdog {
	watchdogLock.Lock()
	defer watchdogLock.Unlock()

	if watchdogInstance == nil {
		interval := time.Duration(config.GetInt(config.WATCHDOG_INTERVAL, 10)) * time.Second
		watchdogInstance = runWatchdog(interval)
	}
	return watchdogInstance
}

func (w *watchdog) run() {
	ticker := time.NewTicker(w.Interval)
	for {
		select {
		case <-ticker.C:
			DeleteExpiredContainers()
		case <-w.stop:
			ticker.Stop()
			return
		}
	}
}

func StopWatchdog() {
	watchdogLock.Lock()
	defer watchdogLock.Unlock()
	if watchdogInstance != nil {
		watchdogInstance.stop <- true
		watchdogInstance = nil
	}
}

func runWatchdog(interval time.Duration) *watchdog {
	w := &watchdog{
		Interval: interval,
		stop:     make(chan bool),
	}
	go w.run()
	return w
}
