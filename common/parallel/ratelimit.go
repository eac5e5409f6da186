// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

type RateLimiter interface {
	Take(count int64) time.Duration
}

// NewRateLimiter creates a token bucket refilled every second from a per-minute
// budget. A non-positive budget means unlimited.
func NewRateLimiter(perMinute int) RateLimiter {
	if perMinute <= 0 {
		return &Unlimited{}
	}
	return ratelimit.NewBucketWithRate(float64(perMinute)/60, int64(max(1, perMinute/60)))
}

type Unlimited struct{}

func (n *Unlimited) Take(count int64) time.Duration {
	return 0
}

// Wait takes count tokens and sleeps until they are available or ctx is done.
func Wait(ctx context.Context, limiter RateLimiter, count int64) error {
	d := limiter.Take(count)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
