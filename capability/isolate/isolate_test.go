package isolate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/capability/isolate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var _ capability.SecureExecution = (*isolate.Runner)(nil)

func TestRunIsolated_ReturnsValue(t *testing.T) {
	r := isolate.New()
	v, err := r.RunIsolated(context.Background(), func(context.Context) (any, error) {
		return 0.25, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

func TestRunIsolated_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := isolate.New().RunIsolated(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunIsolated_ContainsPanic(t *testing.T) {
	_, err := isolate.New().RunIsolated(context.Background(), func(context.Context) (any, error) {
		panic("tampered")
	})
	var pe *isolate.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tampered", pe.Value)
	assert.NotEmpty(t, pe.RunID)
}

func TestRunIsolated_Timeout(t *testing.T) {
	r := isolate.New(isolate.WithTimeout(20 * time.Millisecond))
	_, err := r.RunIsolated(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
