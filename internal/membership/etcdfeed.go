package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

// RegistrySink is where membership events land.
type RegistrySink interface {
	Register(spec models.EndpointSpec) error
	Deregister(group models.GroupID, addr healthcheck.TargetAddr)
}

type endpointDto struct {
	Weight   uint32 `json:"weight"`
	Protocol string `json:"protocol"`
}

// EtcdFeed mirrors the orchestrator's endpoint set under one key prefix into
// the registry: one key per endpoint, `<prefix>/<group>/<ip:port>`, value is
// the endpoint spec. A put registers or updates, a delete starts draining.
type EtcdFeed struct {
	etcd         *clientv3.Client
	prefix       string
	sink         RegistrySink
	lastRevision int64
}

func NewEtcdFeed(ctx context.Context, endpoints []string, prefix string, sink RegistrySink) (*EtcdFeed, error) {
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Context:   ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdFeed{
		etcd:   clnt,
		prefix: prefix,
		sink:   sink,
	}, nil
}

// Run loads the current endpoint set and then follows the prefix watch.
// Watch failures restart from the last applied revision.
func (f *EtcdFeed) Run(ctx context.Context) error {
	resp, err := f.etcd.KV.Get(ctx, f.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to fetch initial endpoint set: %w", err)
	}
	for _, kv := range resp.Kvs {
		f.applyPut(string(kv.Key), kv.Value)
	}
	f.lastRevision = resp.Header.Revision

	ctx = clientv3.WithRequireLeader(ctx)
	watch := func(rev int64) clientv3.WatchChan {
		return f.etcd.Watch(ctx, f.prefix, clientv3.WithPrefix(), clientv3.WithRev(rev))
	}
	watcherChan := watch(f.lastRevision + 1)
	logger := log.With().Str("prefix", f.prefix).Logger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcherChan:
			if !ok {
				logger.Info().Msg("membership watcher channel closed")
				return nil
			}
			if event.Canceled {
				logger.Error().Err(event.Err()).Msg("membership watch canceled, retry")
				watcherChan = watch(f.lastRevision + 1)
				continue
			}
			if event.Err() != nil {
				logger.Error().Err(event.Err()).Msg("got unexpected membership watch error")
				continue
			}
			f.lastRevision = event.Header.Revision
			for _, ev := range event.Events {
				switch ev.Type {
				case mvccpb.DELETE:
					f.applyDelete(string(ev.Kv.Key))
				default:
					f.applyPut(string(ev.Kv.Key), ev.Kv.Value)
				}
			}
		}
	}
}

func (f *EtcdFeed) applyPut(key string, value []byte) {
	group, addr, err := f.parseKey(key)
	if err != nil {
		log.Error().Err(err).Msgf("skipping malformed membership key %s", key)
		return
	}
	dto := endpointDto{}
	err = json.Unmarshal(value, &dto)
	if err != nil {
		log.Error().Err(err).Msgf("skipping malformed membership value at %s", key)
		return
	}
	err = f.sink.Register(models.EndpointSpec{
		Group:    group,
		Addr:     addr,
		Weight:   dto.Weight,
		Protocol: models.Protocol(dto.Protocol),
	})
	if err != nil {
		log.Error().Err(err).Msgf("failed to register endpoint from %s", key)
	}
}

func (f *EtcdFeed) applyDelete(key string) {
	group, addr, err := f.parseKey(key)
	if err != nil {
		log.Error().Err(err).Msgf("skipping malformed membership key %s", key)
		return
	}
	f.sink.Deregister(group, addr)
}

func (f *EtcdFeed) parseKey(key string) (models.GroupID, healthcheck.TargetAddr, error) {
	rest := strings.TrimPrefix(key, f.prefix)
	rest = strings.TrimPrefix(rest, "/")
	groupStr, addrStr, ok := strings.Cut(rest, "/")
	if !ok {
		return "", healthcheck.TargetAddr{}, fmt.Errorf("membership key %s is not <prefix>/<group>/<addr>", key)
	}
	addr, err := healthcheck.TargetAddrFromString(addrStr)
	if err != nil {
		return "", healthcheck.TargetAddr{}, err
	}
	return models.GroupID(groupStr), addr, nil
}

// EndpointKey builds the etcd key for one endpoint, exported for tooling.
func EndpointKey(prefix string, group models.GroupID, addr healthcheck.TargetAddr) string {
	return path.Join(prefix, group.String(), addr.String())
}

func (f *EtcdFeed) Close(ctx context.Context) error {
	return f.etcd.Close()
}
