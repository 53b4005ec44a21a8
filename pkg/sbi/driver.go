// Package sbi implements the southbound transport drivers: CLI over SSH,
// raw SSH command execution (FRR vtysh), vendor REST, and the RouterOS API.
// Every driver keeps one lazily-created session per device and retries
// unreachable failures up to three attempts; authentication failures
// surface immediately.
package sbi

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robertobru/netcl/pkg/util"
)

// Transport timeouts shared by all drivers.
const (
	ConnectTimeout = 30 * time.Second
	ReadTimeout    = 60 * time.Second
	CommandTimeout = 45 * time.Second

	maxAttempts   = 3
	retryInterval = 2 * time.Second
)

// withRetry runs op up to three times, backing off between attempts, as
// long as the failure is an unreachable-transport error. Any other error
// stops the retry loop immediately.
func withRetry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxAttempts-1)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, util.ErrUnreachable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
