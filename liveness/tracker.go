// Copyright 2025-2026 The Fixly Authors
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

package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
)

// WarningCallback invoked when a connection is about to be evicted
type WarningCallback func(connID string)

// EvictCallback invoked when a connection is evicted for inactivity
type EvictCallback func(connID string)

// Tracker maintains last-activity timestamps per connection and evicts
// connections that stay silent past the configured timeout. Safe for
// concurrent use from the per-connection handler path and the sweep path.
type Tracker interface {
	// Observe record activity on a connection, (re)arming its record. Also
	// cancels a pending eviction, since eviction eligibility is recomputed
	// from the timestamp when the warning window closes.
	Observe(connID string)
	// Remove drop a connection's activity record
	Remove(connID string)
	// Tracked number of connections currently tracked
	Tracked() int
	// LastActive fetch a connection's last-activity timestamp
	LastActive(connID string) (time.Time, bool)
	// Sweep run one eviction pass. Normally driven by StartSweep.
	Sweep() error
	// StartSweep start the periodic background sweep
	StartSweep() error
	// Stop stop the background sweep
	Stop() error
}

// activityRecord per-connection liveness bookkeeping
type activityRecord struct {
	lastActive time.Time
	// warnedAt is zero until an inactivity warning was issued. Cleared on
	// activity so a connection can be warned again after a later stall.
	warnedAt time.Time
}

// activityTrackerImpl implements Tracker
type activityTrackerImpl struct {
	common.Component
	inactiveTimeout time.Duration
	warningWindow   time.Duration
	sweepInterval   time.Duration
	onWarning       WarningCallback
	onEvict         EvictCallback
	lock            sync.RWMutex
	records         map[string]*activityRecord
	sweepTimer      common.IntervalTimer
	rootContext     context.Context
	wg              *sync.WaitGroup
}

// GetActivityTracker define a new connection liveness Tracker
func GetActivityTracker(
	inactiveTimeout, warningWindow, sweepInterval time.Duration,
	onWarning WarningCallback,
	onEvict EvictCallback,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) (Tracker, error) {
	logTags := log.Fields{
		"module": "liveness", "component": "activity-tracker",
	}
	sweepTimer, err := common.GetIntervalTimerInstance("liveness-sweep", rootCtxt, wg)
	if err != nil {
		return nil, err
	}
	return &activityTrackerImpl{
		Component:       common.Component{LogTags: logTags},
		inactiveTimeout: inactiveTimeout,
		warningWindow:   warningWindow,
		sweepInterval:   sweepInterval,
		onWarning:       onWarning,
		onEvict:         onEvict,
		records:         make(map[string]*activityRecord),
		sweepTimer:      sweepTimer,
		rootContext:     rootCtxt,
		wg:              wg,
	}, nil
}

// Observe record activity on a connection
func (t *activityTrackerImpl) Observe(connID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	record, ok := t.records[connID]
	if !ok {
		record = &activityRecord{}
		t.records[connID] = record
	}
	record.lastActive = time.Now()
	record.warnedAt = time.Time{}
}

// Remove drop a connection's activity record
func (t *activityTrackerImpl) Remove(connID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.records, connID)
}

// Tracked number of connections currently tracked
func (t *activityTrackerImpl) Tracked() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.records)
}

// LastActive fetch a connection's last-activity timestamp
func (t *activityTrackerImpl) LastActive(connID string) (time.Time, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if record, ok := t.records[connID]; ok {
		return record.lastActive, true
	}
	return time.Time{}, false
}

// Sweep run one eviction pass. Connections silent past the inactive timeout
// receive a one-time warning, then the eviction decision is re-made from the
// timestamp once the warning window closes.
func (t *activityTrackerImpl) Sweep() error {
	now := time.Now()
	var toWarn []string

	t.lock.Lock()
	for connID, record := range t.records {
		if now.Sub(record.lastActive) < t.inactiveTimeout {
			continue
		}
		if !record.warnedAt.IsZero() {
			continue
		}
		record.warnedAt = now
		toWarn = append(toWarn, connID)
	}
	t.lock.Unlock()

	for _, connID := range toWarn {
		log.WithFields(t.LogTags).Infof("Issuing inactivity warning to %s", connID)
		if t.onWarning != nil {
			t.onWarning(connID)
		}
		t.scheduleEviction(connID)
	}
	return nil
}

// scheduleEviction arm a one-shot check at the end of the warning window
func (t *activityTrackerImpl) scheduleEviction(connID string) {
	evictionTimer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("evict/%s", connID), t.rootContext, t.wg,
	)
	if err != nil {
		log.WithError(err).WithFields(t.LogTags).Errorf(
			"Unable to arm eviction check for %s", connID,
		)
		return
	}
	_ = evictionTimer.Start(t.warningWindow, func() error {
		t.finalizeEviction(connID)
		return nil
	}, true)
}

// finalizeEviction evict iff the record is still stale right now. A heartbeat
// during the warning window moved the timestamp, which wins over the timer.
func (t *activityTrackerImpl) finalizeEviction(connID string) {
	t.lock.Lock()
	record, ok := t.records[connID]
	if !ok {
		t.lock.Unlock()
		return
	}
	if time.Since(record.lastActive) < t.inactiveTimeout {
		record.warnedAt = time.Time{}
		t.lock.Unlock()
		return
	}
	delete(t.records, connID)
	t.lock.Unlock()

	log.WithFields(t.LogTags).Infof("Evicting inactive connection %s", connID)
	if t.onEvict != nil {
		t.onEvict(connID)
	}
}

// StartSweep start the periodic background sweep
func (t *activityTrackerImpl) StartSweep() error {
	return t.sweepTimer.Start(t.sweepInterval, t.Sweep, false)
}

// Stop stop the background sweep
func (t *activityTrackerImpl) Stop() error {
	return t.sweepTimer.Stop()
}
