package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  Category
		retryable bool
		delay     time.Duration
	}{
		{
			name:      "connection refused",
			err:       fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED),
			category:  CategoryConnection,
			retryable: true,
			delay:     2 * time.Second,
		},
		{
			name:      "dns failure",
			err:       &net.DNSError{Err: "no such host", Name: "storage.invalid"},
			category:  CategoryConnection,
			retryable: true,
			delay:     2 * time.Second,
		},
		{
			name:      "context cancelled",
			err:       context.Canceled,
			category:  CategoryTimeout,
			retryable: true,
			delay:     3 * time.Second,
		},
		{
			name:      "deadline exceeded",
			err:       fmt.Errorf("put object: %w", context.DeadlineExceeded),
			category:  CategoryTimeout,
			retryable: true,
			delay:     3 * time.Second,
		},
		{
			name:      "unauthorized",
			err:       &HTTPError{StatusCode: 401, Message: "missing token"},
			category:  CategoryAuthentication,
			retryable: false,
		},
		{
			name:      "forbidden",
			err:       &HTTPError{StatusCode: 403, Message: "not allowed"},
			category:  CategoryAuthentication,
			retryable: false,
		},
		{
			name:      "rate limited",
			err:       &HTTPError{StatusCode: 429, Message: "slow down"},
			category:  CategoryRateLimit,
			retryable: true,
			delay:     5 * time.Second,
		},
		{
			name:      "server error",
			err:       minio.ErrorResponse{StatusCode: 503, Code: "SlowDown"},
			category:  CategoryServer,
			retryable: true,
			delay:     3 * time.Second,
		},
		{
			name:      "client error",
			err:       &HTTPError{StatusCode: 422, Message: "bad payload"},
			category:  CategoryValidation,
			retryable: false,
		},
		{
			name:      "record not found",
			err:       fmt.Errorf("find record: %w", gorm.ErrRecordNotFound),
			category:  CategoryConnection,
			retryable: true,
			delay:     2 * time.Second,
		},
		{
			name:      "unique violation",
			err:       gorm.ErrDuplicatedKey,
			category:  CategoryValidation,
			retryable: false,
		},
		{
			name:      "unknown",
			err:       errors.New("something odd"),
			category:  CategoryUnknown,
			retryable: true,
			delay:     2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(tt.err)
			assert.Equal(t, tt.category, info.Category)
			assert.Equal(t, tt.retryable, info.Retryable)
			assert.Equal(t, tt.delay, info.SuggestedDelay)
			assert.NotEmpty(t, info.UserMessage)
			assert.Equal(t, tt.err.Error(), info.RawMessage)
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	assert.NotPanics(t, func() {
		info := Classify(nil)
		assert.Equal(t, CategoryUnknown, info.Category)
		assert.NotEmpty(t, info.UserMessage)
	})
}
