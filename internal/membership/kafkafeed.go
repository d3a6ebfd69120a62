package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

type targetDto struct {
	Group    string `json:"group"`
	RealIP   string `json:"real_ip"`
	Port     int    `json:"port"`
	Weight   uint32 `json:"weight"`
	Protocol string `json:"protocol"`
}

type cdcValue struct {
	Before *targetDto `json:"before"`
	After  *targetDto `json:"after"`
	Op     string     `json:"op"`
	TsMs   int64      `json:"ts_ms"`
}

// KafkaFeed consumes CDC-style endpoint events from the orchestrator's queue
// and applies them to the registry.
type KafkaFeed struct {
	msgReader *kafka.Reader
	sink      RegistrySink
}

func NewKafkaFeed(nodeID string, addr string, topic string, sink RegistrySink) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{addr},
		Topic:       topic,
		MaxBytes:    10 * 1024 * 1024,
		GroupID:     nodeID,
		StartOffset: kafka.LastOffset,
	})
	return &KafkaFeed{
		msgReader: reader,
		sink:      sink,
	}
}

func (f *KafkaFeed) Run(ctx context.Context) error {
	for {
		msg, err := f.msgReader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			_ = f.msgReader.CommitMessages(ctx, msg)
			continue
		}
		event, err := decodeEndpointEvent(msg.Value)
		if err != nil {
			log.Error().Err(err).Msg("failed to decode membership message, skip")
			_ = f.msgReader.CommitMessages(ctx, msg)
			continue
		}
		if event != nil {
			f.apply(*event)
		}
		err = f.msgReader.CommitMessages(ctx, msg)
		if err != nil {
			log.Error().Err(err).Msg("failed to commit membership message: it will be doubled")
		}
	}
}

func decodeEndpointEvent(raw []byte) (*models.EndpointEvent, error) {
	value := cdcValue{}
	err := json.Unmarshal(raw, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cdc json: %w", err)
	}
	var (
		dto     *targetDto
		removed bool
	)
	switch value.Op {
	case "c", "r", "u":
		dto = value.After
	case "d":
		dto = value.Before
		removed = true
	default:
		return nil, fmt.Errorf("unknown cdc op %q", value.Op)
	}
	if dto == nil {
		return nil, fmt.Errorf("cdc event op %q carries no payload", value.Op)
	}
	ip := net.ParseIP(dto.RealIP)
	if ip == nil {
		return nil, fmt.Errorf("failed to parse endpoint ip %q", dto.RealIP)
	}
	return &models.EndpointEvent{
		Spec: models.EndpointSpec{
			Group: models.GroupID(dto.Group),
			Addr: healthcheck.TargetAddr{
				RealIP: ip,
				Port:   uint16(dto.Port),
			},
			Weight:   dto.Weight,
			Protocol: models.Protocol(dto.Protocol),
		},
		Removed: removed,
	}, nil
}

func (f *KafkaFeed) apply(event models.EndpointEvent) {
	log.Info().Msgf("membership event: removed=%t %s in group %s",
		event.Removed, event.Spec.Addr, event.Spec.Group)
	if event.Removed {
		f.sink.Deregister(event.Spec.Group, event.Spec.Addr)
		return
	}
	err := f.sink.Register(event.Spec)
	if err != nil {
		log.Error().Err(err).Msgf("failed to register endpoint %s", event.Spec.Addr)
	}
}

func (f *KafkaFeed) Close(ctx context.Context) error {
	return f.msgReader.Close()
}
