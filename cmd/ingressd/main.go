package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/edgegate/ingressd/internal/autoscaler"
	"github.com/edgegate/ingressd/internal/balancer"
	"github.com/edgegate/ingressd/internal/config"
	"github.com/edgegate/ingressd/internal/dispatcher"
	"github.com/edgegate/ingressd/internal/membership"
	"github.com/edgegate/ingressd/internal/metrics"
	"github.com/edgegate/ingressd/internal/notifyer"
	"github.com/edgegate/ingressd/internal/prober"
	"github.com/edgegate/ingressd/internal/registry"
	"github.com/edgegate/ingressd/internal/sender"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Config struct {
	NodeID      string `envconfig:"NODE_ID"`
	LoggerLevel string `envconfig:"LOGGER_LEVEL,optional"`

	ListenersCfg string `envconfig:"LISTENERS"`
	GroupsCfg    string `envconfig:"GROUPS"`
	ScalingCfg   string `envconfig:"SCALING,optional"`

	// etcd or kafka, empty runs with a static (empty) membership
	MembershipMode string `envconfig:"MEMBERSHIP_MODE,optional"`
	EtcdEndpoint   string `envconfig:"ETCD_ENDPOINT,optional"`
	EtcdPrefix     string `envconfig:"ETCD_MEMBERSHIP_PREFIX,default=/ingressd/endpoints"`
	QueueAddr      string `envconfig:"QUEUE_ADDR,optional"`
	QueueTopic     string `envconfig:"QUEUE_MEMBERSHIP_TOPIC,optional"`

	EventsTopic string `envconfig:"QUEUE_EVENTS_TOPIC,optional"`
	StatsdAddr  string `envconfig:"STATSD_ADDR,optional"`
	AdminAddr   string `envconfig:"ADMIN_ADDR,default=0.0.0.0:8080"`

	ResendEventsInterval time.Duration `envconfig:"RESEND_EVENTS_INTERVAL,default=10s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	appCfg := Config{}
	err := envconfig.Init(&appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(appCfg.LoggerLevel))

	log.Warn().Msgf("running node %s", appCfg.NodeID)

	topology, err := config.Parse(appCfg.ListenersCfg, appCfg.GroupsCfg, appCfg.ScalingCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid topology config, refusing to start")
	}

	var m metrics.Metrics = metrics.NewNoop()
	if appCfg.StatsdAddr != "" {
		m = metrics.NewStatsd(appCfg.NodeID, appCfg.StatsdAddr)
	}

	notifier := notifyer.NewNotifier(1024)
	defer notifier.Close()

	var publisher sender.EventPublisher = sender.NewLogPublisher()
	if appCfg.EventsTopic != "" && appCfg.QueueAddr != "" {
		kafkaPublisher := sender.NewKafkaPublisher(appCfg.QueueAddr, appCfg.EventsTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}
	eventSender := sender.NewSenderController(notifier.GetEventChan(), publisher, appCfg.ResendEventsInterval)
	go eventSender.Run(ctx)

	reg := registry.New(notifier, m)
	for _, g := range topology.Groups {
		err = reg.AddGroup(g.ID, registry.GroupSettings{
			Health:       g.Health,
			DrainTimeout: g.DrainTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up listener group")
		}
	}

	probes := prober.New(reg, m)
	reg.SetPlanner(probes)
	defer probes.Close()
	go func() {
		err := probes.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("prober stopped")
		}
	}()

	bal := balancer.New(reg)
	for _, g := range topology.Groups {
		if err := bal.SetPolicy(g.ID, g.Balancer); err != nil {
			log.Fatal().Err(err).Msg("failed to set balancing policy")
		}
	}

	for _, spec := range topology.Listeners {
		d := dispatcher.New(spec, bal, reg, notifier, m)
		go func() {
			err := d.Run(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("listener failed")
			}
		}()
	}

	for _, s := range topology.Scaling {
		var sampler autoscaler.Sampler
		if s.Source == config.SampleSourceHTTP {
			sampler = autoscaler.NewHTTPSampler(s.SourceURL, 2*time.Second)
		} else {
			sampler = autoscaler.NewConnSampler(reg, s.Group, s.ConnsPerBackend)
		}
		controller, err := autoscaler.NewController(s.Group, sampler, reg, s.Bounds, notifier, m)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create autoscaling controller")
		}
		go func() {
			err := controller.Run(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("autoscaling controller stopped")
			}
		}()
	}

	switch appCfg.MembershipMode {
	case "etcd":
		feed, err := membership.NewEtcdFeed(ctx, []string{appCfg.EtcdEndpoint}, appCfg.EtcdPrefix, reg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init etcd membership feed")
		}
		defer feed.Close(context.Background())
		go func() {
			err := feed.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal().Err(err).Msg("membership feed failed")
			}
		}()
	case "kafka":
		feed := membership.NewKafkaFeed(appCfg.NodeID, appCfg.QueueAddr, appCfg.QueueTopic, reg)
		defer feed.Close(context.Background())
		go func() {
			err := feed.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal().Err(err).Msg("membership feed failed")
			}
		}()
	case "":
		log.Warn().Msg("no membership feed configured, endpoints must come from tooling")
	default:
		log.Fatal().Msgf("unknown membership mode %q", appCfg.MembershipMode)
	}

	adminClose := startAdminServer(appCfg.AdminAddr, reg)
	defer adminClose()

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

func startAdminServer(addr string, reg *registry.Registry) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Info())
	})
	srv := http.Server{
		Handler: mux,
		Addr:    addr,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start admin http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
