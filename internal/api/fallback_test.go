package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEach_ReturnsFirstSuccess(t *testing.T) {
	var tried []string
	err := TryEach(context.Background(), []string{"a", "b", "c"}, func(_ context.Context, s string) error {
		tried = append(tried, s)
		if s == "b" {
			return nil
		}
		return NewError(KindNotFound, s, nil)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tried)
}

func TestTryEach_PropagatesLastFailure(t *testing.T) {
	err := TryEach(context.Background(), []string{"a", "b"}, func(_ context.Context, s string) error {
		return NewError(KindNetwork, s, nil)
	})

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "b", apiErr.Op)
}

func TestTryEach_StopsOnTerminal(t *testing.T) {
	for _, kind := range []Kind{KindSessionExpired, KindInvalidCredentials, KindValidation} {
		t.Run(kind.String(), func(t *testing.T) {
			calls := 0
			err := TryEach(context.Background(), []int{1, 2, 3}, func(context.Context, int) error {
				calls++
				return NewError(kind, "op", nil)
			})

			assert.Equal(t, kind, KindOf(err))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestTryEach_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := TryEach(ctx, []int{1, 2}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTryEach_Empty(t *testing.T) {
	err := TryEach(context.Background(), []int(nil), func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, errNoCandidates)
}

func TestFallback_TriesAlternateRoute(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/users/me" {
			_, _ = w.Write([]byte(`{"id":7,"username":"ana"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	var out struct {
		Username string `json:"username"`
	}
	err := c.Fallback(context.Background(),
		Candidates(Request{Method: http.MethodGet, Token: "t"}, CurrentUserPaths...), &out)

	require.NoError(t, err)
	assert.Equal(t, "ana", out.Username)
	assert.Equal(t, []string{"/api/v1/auth/me", "/api/v1/users/me"}, paths)
}

func TestFallback_ExpiryStopsChain(t *testing.T) {
	calls := 0
	c, bus := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	expired := countExpired(bus)

	err := c.Fallback(context.Background(),
		Candidates(Request{Method: http.MethodGet, Token: "t"}, UnreadCountPaths...), nil)

	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, *expired)
}

func TestCandidates(t *testing.T) {
	reqs := Candidates(Request{Method: http.MethodPut, Token: "t"}, MarkReadPaths("a b")...)

	require.Len(t, reqs, 2)
	assert.Equal(t, "/notifications/a%20b/read", reqs[0].Path)
	assert.Equal(t, "/notifications/a%20b", reqs[1].Path)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "t", reqs[1].Token)
}
