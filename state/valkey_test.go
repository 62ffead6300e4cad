package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	valkeymock "github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func TestValkeyManager(t *testing.T) {
	t.Run("Cache operations", func(t *testing.T) {
		t.Run("SaveCache success", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, valkeymock.Match("SET", "exact:default:sig:hash", "test-value", "EX", "300")).
				Return(valkeymock.Result(valkeymock.ValkeyString("OK")))

			err := manager.SaveCache(ctx, "exact:default:sig:hash", []byte("test-value"), 300*time.Second)
			assert.NoError(t, err)
		})

		t.Run("LoadCache success", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			expectedValue := []byte(`{"id":"chatcmpl-abc"}`)
			mockClient.EXPECT().
				Do(ctx, valkeymock.Match("GET", "exact:default:sig:hash")).
				Return(valkeymock.Result(valkeymock.ValkeyBlobString(string(expectedValue))))

			value, err := manager.LoadCache(ctx, "exact:default:sig:hash")
			assert.NoError(t, err)
			assert.Equal(t, expectedValue, value)
		})

		t.Run("LoadCache handles nil value", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, valkeymock.Match("GET", "missing-key")).
				Return(valkeymock.Result(valkeymock.ValkeyNil()))

			value, err := manager.LoadCache(ctx, "missing-key")
			assert.NoError(t, err)
			assert.Nil(t, value)
		})

		t.Run("LoadCache surfaces errors", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, gomock.Any()).
				Return(valkeymock.ErrorResult(fmt.Errorf("connection refused")))

			_, err := manager.LoadCache(ctx, "any-key")
			assert.Error(t, err)
		})
	})

	t.Run("Increment", func(t *testing.T) {
		t.Run("returns the new counter value", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, valkeymock.Match("INCR", "metrics:cache_exact_hit:default")).
				Return(valkeymock.Result(valkeymock.ValkeyInt64(3)))

			count, err := manager.Increment(ctx, "metrics:cache_exact_hit:default")
			assert.NoError(t, err)
			assert.Equal(t, int64(3), count)
		})

		t.Run("handles error", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, gomock.Any()).
				Return(valkeymock.ErrorResult(fmt.Errorf("connection refused")))

			count, err := manager.Increment(ctx, "metrics:cache_exact_hit:default")
			assert.Error(t, err)
			assert.Equal(t, int64(0), count)
		})
	})

	t.Run("Edge cases", func(t *testing.T) {
		t.Run("context cancellation", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			mockClient.EXPECT().
				Do(ctx, gomock.Any()).
				Return(valkeymock.ErrorResult(context.Canceled))

			err := manager.SaveCache(ctx, "test-key", []byte("test-value"), time.Second)
			assert.Error(t, err)
			assert.Equal(t, context.Canceled, err)
		})

		t.Run("zero duration", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockClient := valkeymock.NewClient(ctrl)
			manager := NewValkeyManager(mockClient)
			ctx := context.Background()

			mockClient.EXPECT().
				Do(ctx, valkeymock.Match("SET", "test-key", "test-value", "EX", "0")).
				Return(valkeymock.Result(valkeymock.ValkeyString("OK")))

			err := manager.SaveCache(ctx, "test-key", []byte("test-value"), 0)
			assert.NoError(t, err)
		})
	})
}
