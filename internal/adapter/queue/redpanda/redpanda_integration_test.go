//go:build integration

package redpanda

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ubtguoyi/writing/internal/domain"
)

const testBrokerPort = 29092

func startRedpanda(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", testBrokerPort),
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(60 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprint(testBrokerPort)}}
		},
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return fmt.Sprintf("localhost:%d", testBrokerPort)
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	broker := startRedpanda(t)
	topic := fmt.Sprintf("test-corrections-%d", time.Now().UnixNano())

	p, err := NewProducer([]string{broker}, topic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	var mu sync.Mutex
	got := map[string]bool{}
	done := make(chan struct{})
	c, err := NewConsumer([]string{broker}, "test-group-"+topic, topic, 2, func(_ context.Context, task domain.CorrectionTask) error {
		mu.Lock()
		defer mu.Unlock()
		got[task.RecordID] = true
		if len(got) == 2 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, p.EnqueueCorrection(ctx, domain.CorrectionTask{TaskID: "t1", RecordID: "r1"}))
	require.NoError(t, p.EnqueueCorrection(ctx, domain.CorrectionTask{TaskID: "t2", RecordID: "r2"}))

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatal("tasks not consumed")
	}
}
