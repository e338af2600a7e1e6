// Copyright 2024 SpooledFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
)

func TestIsBusy(t *testing.T) {
	t.Parallel()
	assert.True(t, IsBusy(syscall.EBUSY))
	assert.True(t, IsBusy(fmt.Errorf("unmount /mnt: %w", syscall.EBUSY)))
	assert.True(t, IsBusy(errors.New("fusermount3: failed to unmount /mnt: Device or resource busy")))
	assert.False(t, IsBusy(syscall.EINVAL))
	assert.False(t, IsBusy(nil))
}

func TestRetry_BusyIsRetried(t *testing.T) {
	t.Parallel()
	calls := 0
	opts := append(UnmountRetryOptions(context.Background()), retry.Delay(time.Millisecond))
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return syscall.EBUSY
		}
		return nil
	}, opts...)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_OtherErrorsStop(t *testing.T) {
	t.Parallel()
	calls := 0
	boom := errors.New("not mounted")
	err := Retry(context.Background(), func() error {
		calls++
		return boom
	}, UnmountRetryOptions(context.Background())...)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_Defaults(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
