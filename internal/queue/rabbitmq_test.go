package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRabbit spins up a RabbitMQ container and returns its AMQP URL.
func setupRabbit(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestRabbitQueue_PublishConsumeAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbit(t)

	q, err := queue.NewRabbitQueue(queue.RabbitConfig{URL: url, Queue: "casefile.test", Prefetch: 1})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id := uuid.New()
	require.NoError(t, q.Publish(ctx, queue.Message{ReportID: id}))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	msg, err := queue.Decode(d.Body)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ReportID)
	require.NoError(t, d.Ack())
}

func TestRabbitQueue_RejectRequeue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbit(t)

	q, err := queue.NewRabbitQueue(queue.RabbitConfig{URL: url, Queue: "casefile.requeue", Prefetch: 1})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id := uuid.New()
	require.NoError(t, q.Publish(ctx, queue.Message{ReportID: id}))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, receive(t, deliveries).Reject(true))

	again := receive(t, deliveries)
	msg, err := queue.Decode(again.Body)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ReportID)
	require.NoError(t, again.Ack())
}

func TestRabbitQueue_PublishAfterClose(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbit(t)

	q, err := queue.NewRabbitQueue(queue.RabbitConfig{URL: url, Queue: "casefile.closed"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	err = q.Publish(context.Background(), queue.Message{ReportID: uuid.New()})
	assert.ErrorIs(t, err, queue.ErrClosed)
}
