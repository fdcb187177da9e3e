package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// requester is the part of kgo.Client used for admin requests.
type requester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// ensureTopic creates the topic through the admin API; an existing topic is not an error.
func ensureTopic(ctx context.Context, client requester, topic string, partitions int32, replicationFactor int16) error {
	switch {
	case topic == "":
		return fmt.Errorf("op=redpanda.ensureTopic: topic name cannot be empty")
	case partitions <= 0:
		return fmt.Errorf("op=redpanda.ensureTopic: partitions must be greater than 0")
	case replicationFactor <= 0:
		return fmt.Errorf("op=redpanda.ensureTopic: replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, t)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=redpanda.ensureTopic: %w", err)
	}
	ctr, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=redpanda.ensureTopic: unexpected response type %T", resp)
	}
	for _, tr := range ctr.Topics {
		err := kerr.ErrorForCode(tr.ErrorCode)
		switch {
		case err == nil:
			slog.Info("topic created", slog.String("topic", tr.Topic), slog.Int("partitions", int(partitions)))
		case err == kerr.TopicAlreadyExists:
			slog.Debug("topic already exists", slog.String("topic", tr.Topic))
		default:
			msg := ""
			if tr.ErrorMessage != nil {
				msg = *tr.ErrorMessage
			}
			return fmt.Errorf("op=redpanda.ensureTopic: %w: %s", err, msg)
		}
	}
	return nil
}

var _ requester = (*kgo.Client)(nil)
