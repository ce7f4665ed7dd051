package services

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const defaultOutageMessage = "someone unplugged the power cable!"

// GridWatcher is the only production caller of the alert store's broadcast
// operations. Incident sources (SIGUSR1, MQTT, the admin API) all route
// through it, so the store sees a single coherent incident state.
type GridWatcher struct {
	mu     sync.Mutex
	alerts *AlertStore
	active bool
	stop   chan struct{}
}

func NewGridWatcher(alerts *AlertStore) *GridWatcher {
	return &GridWatcher{alerts: alerts, stop: make(chan struct{})}
}

// Start listens for SIGUSR1 and alternates between reporting an outage and
// resolving it, matching the operator convention of "kill -USR1 twice".
func (gw *GridWatcher) Start() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)

	go func() {
		for {
			select {
			case <-signals:
				gw.Toggle()
			case <-gw.stop:
				signal.Stop(signals)
				return
			}
		}
	}()
}

func (gw *GridWatcher) Stop() {
	close(gw.stop)
}

// Toggle flips the incident state: no incident becomes an outage with the
// default message, a standing incident becomes resolved.
func (gw *GridWatcher) Toggle() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.active {
		gw.alerts.BroadcastResolved()
		gw.active = false
		log.Info("sent issue resolved to connected clients")
	} else {
		gw.alerts.BroadcastError(defaultOutageMessage)
		gw.active = true
		log.Info("sent error alert to connected clients")
	}
}

// ReportOutage publishes an incident with an explicit message. Re-reporting
// while an incident stands replaces the standing alert.
func (gw *GridWatcher) ReportOutage(msg string) {
	if msg == "" {
		msg = defaultOutageMessage
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.alerts.BroadcastError(msg)
	gw.active = true
	log.WithField("message", msg).Info("grid outage reported")
}

// Resolve clears the standing incident. No-op when nothing is active.
func (gw *GridWatcher) Resolve() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if !gw.active {
		return
	}
	gw.alerts.BroadcastResolved()
	gw.active = false
	log.Info("grid outage resolved")
}
