/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package transport

import (
	"math/rand/v2"
	"time"
)

// maxShift keeps 1ms << retries from overflowing time.Duration
const maxShift = 40

// Backoff computes reconnect delays: 2^retries ms plus uniform jitter, capped at MaxWait.
// It is not safe for concurrent use.
type Backoff struct {
	MaxWait time.Duration
	Jitter  time.Duration
	rng     *rand.Rand
}

// NewBackoff creates a Backoff. A nil rng uses a randomly seeded source.
func NewBackoff(maxWait, jitter time.Duration, rng *rand.Rand) *Backoff {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Backoff{MaxWait: maxWait, Jitter: jitter, rng: rng}
}

// Delay returns the wait before the reconnect attempt that follows retries failures
func (b *Backoff) Delay(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	base := b.MaxWait
	if retries < maxShift {
		base = time.Millisecond << uint(retries)
	}

	var jitter time.Duration
	if b.Jitter > 0 {
		jitter = time.Duration(b.rng.Int64N(int64(b.Jitter)))
	}

	delay := base + jitter
	if delay > b.MaxWait || delay < 0 {
		delay = b.MaxWait
	}
	return delay
}
