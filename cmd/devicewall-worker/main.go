// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command devicewall-worker runs one device's policy group: it loads a
// device profile HCL file, binds one NFQUEUE per policy starting at the
// base_queue_id given as its first argument (which takes the place of
// the profile's own base_queue_id), and evaluates every packet against
// the shared interaction state machine until terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"grimm.is/devicewall/internal/config"
	"grimm.is/devicewall/internal/logging"
	"grimm.is/devicewall/internal/metrics"
	"grimm.is/devicewall/internal/schedule"
	"grimm.is/devicewall/internal/supervisor"
)

// clockSkewWarnThreshold is how far a device's local clock may drift
// from its NTP peer before a started worker logs a warning. Activity
// periods and freshness timeouts both key off the local wall clock, so
// drift past this is worth an operator's attention even though nothing
// here corrects it.
const clockSkewWarnThreshold = 2 * time.Second

func main() {
	if len(os.Args) != 3 {
		os.Stderr.WriteString("usage: devicewall-worker <base_queue_id> <device-profile.hcl>\n")
		os.Exit(1)
	}

	log := logging.WithComponent("devicewall-worker")

	baseQueueID, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		log.WithError(err).Fatal("invalid base_queue_id")
	}

	profile, err := config.Load(os.Args[2])
	if err != nil {
		log.WithError(err).Fatal("failed to load device profile")
	}
	profile.BaseQueueID = int(baseQueueID)

	stateDir := os.Getenv("DEVICEWALL_STATE_DIR")
	if stateDir == "" {
		stateDir = "/var/lib/devicewall/" + profile.Name
	}

	ntpPeer := os.Getenv("DEVICEWALL_NTP_PEER")
	if ntpPeer == "" {
		ntpPeer = "pool.ntp.org"
	}
	if skew, err := schedule.ClockSkew(ntpPeer); err != nil {
		log.WithError(err).Warn("clock skew check failed, continuing without it", "ntp_peer", ntpPeer)
	} else if skew > clockSkewWarnThreshold || skew < -clockSkewWarnThreshold {
		log.Warn("local clock drift exceeds threshold, activity windows may fire early or late",
			"ntp_peer", ntpPeer, "skew", skew)
	}

	var crash *supervisor.Supervisor
	if !supervisor.ShouldSkipDetection() {
		crash = supervisor.New(stateDir, supervisor.DefaultConfig())
		crash.StartStabilityTimer()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting device policy group",
		"device", profile.Name,
		"base_queue_id", profile.BaseQueueID,
		"policies", len(profile.Policies))

	supervisor.NewDevice(profile, crash, metrics.New()).Run(ctx)

	log.Info("device policy group stopped", "device", profile.Name)
}
