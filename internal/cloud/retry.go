/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cloud

import (
	"context"
	"time"
)

// Retry runs fn up to maxRetries times with exponential backoff,
// returning the last error if every attempt fails. fn reports whether an
// error is retryable (5xx/network) vs terminal. Shared by every provider
// adapter's UploadPart/Complete.
var initialBackoff = 200 * time.Millisecond

func Retry(ctx context.Context, fn func() (retryable bool, err error)) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return lastErr
}
