// Copyright 2015 Apcera Inc. All rights reserved.

package supervisor

import "time"

// checkRateLimit enforces StartLimitBurst events within
// StartLimitIntervalSec. It advances or resets the window recorded in
// RuntimeState and reports false once the burst is exceeded.
func (svc *Service) checkRateLimit() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	limit := svc.unit.Service.StartLimit
	if limit.Burst <= 0 || limit.IntervalSec <= 0 {
		return true
	}

	now := time.Now().Unix()
	windowStart := svc.unit.Runtime.RestartWindowStart
	intervalSec := int64(limit.IntervalSec / time.Second)

	if windowStart == 0 || now-windowStart > intervalSec {
		svc.unit.Runtime.RestartWindowStart = now
		svc.unit.Runtime.RestartCount = 1
		return true
	}

	svc.unit.Runtime.RestartCount++
	return svc.unit.Runtime.RestartCount <= limit.Burst
}
