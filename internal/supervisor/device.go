// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grimm.is/devicewall/internal/config"
	"grimm.is/devicewall/internal/dissect"
	"grimm.is/devicewall/internal/dnscache"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/logging"
	"grimm.is/devicewall/internal/metrics"
	"grimm.is/devicewall/internal/policyengine"
	"grimm.is/devicewall/internal/queueworker"
)

// RestartBackoff is how long a device worker waits before rebinding its
// queue after an abnormal exit.
const RestartBackoff = time.Second

// Device runs one device profile's policy group: one queueworker.Worker
// per policy, sharing one policyengine.Descriptor and one DNS cache,
// restarted under the crash supervisor's safe-mode discipline.
type Device struct {
	Profile *config.DeviceProfile
	Crash   *Supervisor
	Metrics *metrics.Metrics

	dnsCache *dnscache.Cache
	log      *logging.Logger
}

// NewDevice builds a Device ready to Run. m may be nil, in which case
// no Prometheus counters are recorded.
func NewDevice(profile *config.DeviceProfile, crash *Supervisor, m *metrics.Metrics) *Device {
	return &Device{
		Profile:  profile,
		Crash:    crash,
		Metrics:  m,
		dnsCache: dnscache.New(),
		log:      logging.WithComponent("supervisor").With("device", profile.Name),
	}
}

// Run validates the device's monitored interface (when named), spawns
// one worker goroutine per policy, and blocks until ctx is canceled or
// every worker has returned (which happens only once the crash
// supervisor has pushed every one of them into safe mode).
func (d *Device) Run(ctx context.Context) {
	if err := validateInterface(d.Profile.Interface, d.Profile.NetNS); err != nil {
		d.log.WithError(err).Error("interface validation failed, not starting device")
		return
	}

	descriptor := policyengine.NewDescriptor(d.Profile.NumStates, d.Profile.Period(), d.Profile.FreshnessThreshold)
	descriptor.InLoop = d.Profile.InLoop
	descriptor.LoopTarget = d.Profile.LoopTarget
	d.log = d.log.With("descriptor_id", descriptor.ID)

	var wg sync.WaitGroup
	for i, policy := range d.Profile.Policies {
		queueNum := uint16(d.Profile.BaseQueueID + i)
		pw := &policyengine.Worker{
			Descriptor: descriptor,
			Table:      policy.TransitionTable(),
			DNSLookup:  d.lookupDNS,
		}

		wg.Add(1)
		go func(queueNum uint16, pw *policyengine.Worker, policyName string) {
			defer wg.Done()
			d.runWithRestart(ctx, queueNum, pw, policyName)
		}(queueNum, pw, policy.Name)
	}
	wg.Wait()
}

func (d *Device) lookupDNS(name string) (ipaddr.Addr, bool) {
	entry, ok := d.dnsCache.Get(name)
	if !ok || len(entry.Addresses) == 0 {
		return ipaddr.Addr{}, false
	}
	return entry.Addresses[len(entry.Addresses)-1], true
}

// runWithRestart drives one policy's queue worker, rebinding the queue
// after every abnormal exit until ctx is canceled or the crash
// supervisor decides the device has crash-looped past its threshold.
func (d *Device) runWithRestart(ctx context.Context, queueNum uint16, pw *policyengine.Worker, policyName string) {
	log := d.log.With("policy", policyName, "queue", queueNum)

	for ctx.Err() == nil {
		err, wasPanic := d.runWorkerOnce(ctx, queueNum, pw, policyName)

		if err == nil {
			if d.Crash != nil {
				_ = d.Crash.RecordExit(0, 0, false)
			}
			return
		}

		if wasPanic {
			log.WithError(err).Error("policy worker panicked, will restart")
		} else {
			log.WithError(err).Warn("policy worker exited, will restart")
		}
		if d.Metrics != nil {
			d.Metrics.WorkerRestarts.WithLabelValues(d.Profile.Name, policyName).Inc()
		}
		if d.Crash != nil {
			_ = d.Crash.RecordExit(1, 0, wasPanic)
			if d.Metrics != nil {
				d.Metrics.CrashesDetected.WithLabelValues(d.Profile.Name).Inc()
			}
			if d.Crash.ShouldEnterSafeMode() {
				log.Error("crash threshold reached, entering safe mode: not restarting")
				if d.Metrics != nil {
					d.Metrics.SafeModeEntries.WithLabelValues(d.Profile.Name).Inc()
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(RestartBackoff):
		}
	}
}

// runWorkerOnce binds one policy's queue and runs it to completion,
// recovering a panic from the worker's verdict path into an error so
// the crash supervisor sees it as the crash it is (wasPanic=true)
// rather than losing the whole device to an unhandled panic.
func (d *Device) runWorkerOnce(ctx context.Context, queueNum uint16, pw *policyengine.Worker, policyName string) (error, bool) {
	worker := queueworker.New(queueNum, d.verdictFuncFor(pw, policyName))
	return recoverPanic(func() error { return worker.Run(ctx) })
}

// recoverPanic runs fn, converting a panic into an error and reporting
// wasPanic=true, so a caller that drives a crash supervisor can treat a
// panic the same way it treats any other fatal exit, just classified
// correctly.
func recoverPanic(fn func() error) (err error, wasPanic bool) {
	defer func() {
		if r := recover(); r != nil {
			wasPanic = true
			err = fmt.Errorf("panic in policy worker: %v", r)
		}
	}()
	return fn(), false
}

// verdictFuncFor adapts a policyengine.Worker into a
// queueworker.VerdictFunc: dissect the raw packet into PacketFacts,
// evaluate it against the policy's state machine, and translate the
// resulting policyengine.Verdict into a queueworker.Verdict.
func (d *Device) verdictFuncFor(pw *policyengine.Worker, policyName string) queueworker.VerdictFunc {
	return func(entry queueworker.Entry) queueworker.Verdict {
		if d.Metrics != nil {
			d.Metrics.PacketsProcessed.WithLabelValues(d.Profile.Name, policyName).Inc()
		}
		facts := dissect.Packet(entry.Payload, d.dnsCache)
		verdict := pw.Evaluate(facts, entry.Timestamp)
		if verdict == policyengine.VerdictAccept {
			if d.Metrics != nil {
				d.Metrics.PacketsAccepted.WithLabelValues(d.Profile.Name, policyName).Inc()
			}
			return queueworker.Verdict{Type: queueworker.VerdictAccept}
		}
		if d.Metrics != nil {
			d.Metrics.PacketsDropped.WithLabelValues(d.Profile.Name, policyName).Inc()
		}
		return queueworker.Verdict{Type: queueworker.VerdictDrop}
	}
}
