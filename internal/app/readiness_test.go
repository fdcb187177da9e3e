package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/ubtguoyi/writing/internal/adapter/httpserver"
	"github.com/ubtguoyi/writing/internal/config"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestBuildReadinessChecks(t *testing.T) {
	t.Parallel()
	checks := BuildReadinessChecks(pingStub{}, pingStub{err: errors.New("broker down")})
	require.Len(t, checks, 2)
	assert.Equal(t, "store", checks[0].Name)
	assert.NoError(t, checks[0].Check(context.Background()))
	assert.Equal(t, "queue", checks[1].Name)
	assert.EqualError(t, checks[1].Check(context.Background()), "broker down")

	// a queue without Ping contributes no check
	assert.Len(t, BuildReadinessChecks(pingStub{}, struct{}{}), 1)

	nilStore := BuildReadinessChecks(nil, nil)
	require.Len(t, nilStore, 1)
	assert.Error(t, nilStore[0].Check(context.Background()))
}

func TestReadyz_ReportsFailingDependency(t *testing.T) {
	t.Parallel()
	srv := &httpserver.Server{Checks: BuildReadinessChecks(pingStub{}, pingStub{err: errors.New("broker down")})}
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"checks":[{"name":"store","ok":true},{"name":"queue","ok":false,"details":"broker down"}]}`, rec.Body.String())
}

func TestOpenStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, closeFn, err := OpenStore(ctx, config.Config{StoreBackend: config.StoreMemory})
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	mr := miniredis.RunT(t)
	rs, closeRedis, err := OpenStore(ctx, config.Config{StoreBackend: "REDIS", RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer closeRedis()
	require.NoError(t, rs.Ping(ctx))
	require.NoError(t, rs.Set(ctx, "k", "v"))
	assert.True(t, mr.Exists("writing:k"))

	_, closeBad, err := OpenStore(ctx, config.Config{StoreBackend: "etcd"})
	assert.Error(t, err)
	closeBad()

	_, _, err = OpenStore(ctx, config.Config{StoreBackend: config.StoreRedis, RedisURL: "://bad"})
	assert.Error(t, err)
}

func TestOpenWorkflowLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, closeFn, err := OpenWorkflowLimiter(ctx, config.Config{})
	require.NoError(t, err)
	assert.Nil(t, l)
	require.NotNil(t, closeFn)
	closeFn()

	_, closeFn, err = OpenWorkflowLimiter(ctx, config.Config{WorkflowRatePerMin: 10, RedisURL: "not a url"})
	require.Error(t, err)
	closeFn()

	mr := miniredis.RunT(t)
	l, closeFn, err = OpenWorkflowLimiter(ctx, config.Config{WorkflowRatePerMin: 1, RedisURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer closeFn()
	require.NotNil(t, l)
	require.NoError(t, l.Wait(ctx, "ocr"))
	assert.True(t, mr.Exists("writing:rate:workflow:ocr"))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(short, "ocr"))
}
