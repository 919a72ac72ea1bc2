package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"headless-sentinel/internal/types"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	bg := context.Background()

	cases := []struct {
		name string
		err  error
		want types.TransportErrorKind
	}{
		{"refused", errors.New("dial tcp 10.0.0.1:5985: connect: connection refused"), types.TransportUnreachable},
		{"http 401", errors.New("http response error: 401 - invalid content type"), types.TransportAuth},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), types.TransportTimeout},
		{"net timeout", timeoutErr{}, types.TransportTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			te := Classify(bg, "dc01", tc.err)
			assert.Equal(t, tc.want, te.Kind)
			assert.Equal(t, "dc01", te.Host)
			assert.ErrorIs(t, te, tc.err)
		})
	}
}

func TestClassifyUsesContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	te := Classify(ctx, "dc01", errors.New("read: connection reset"))
	assert.Equal(t, types.TransportTimeout, te.Kind)
}

func TestClassifyKeepsTransportError(t *testing.T) {
	orig := &types.TransportError{Kind: types.TransportAuth, Host: "x", Err: errors.New("bad")}
	assert.Same(t, orig, Classify(context.Background(), "dc01", orig))
}

func TestTimeoutFor(t *testing.T) {
	c := NewClient(time.Minute)

	assert.Equal(t, time.Minute, c.timeoutFor(context.Background(), types.Target{}))
	assert.Equal(t, 5*time.Second, c.timeoutFor(context.Background(), types.Target{Timeout: 5 * time.Second}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.LessOrEqual(t, c.timeoutFor(ctx, types.Target{Timeout: 30 * time.Second}), 2*time.Second)
}
