package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// watchdogLoop pings systemd's watchdog when the unit sets WatchdogSec= and
// process supervision is active. This is the daemon subpackage's own
// liveness ping for the process it runs inside, not a way to manage other
// units.
func watchdogLoop(ctx context.Context) error {
	daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			return nil
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
