package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/agent/docedit"
	"github.com/kadirpekel/conductor/pkg/agent/remote"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/events"
)

// newPublisher builds the configured event publishers. With none enabled
// events are discarded.
func newPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	var pubs events.Multi

	if cfg.Redis.Enabled {
		p, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		logger.Info("Publishing task events to redis", "addr", cfg.Redis.Addr)
		pubs = append(pubs, p)
	}

	if cfg.Kafka.Enabled {
		p, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			_ = pubs.Close()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		logger.Info("Publishing task events to kafka", "brokers", cfg.Kafka.Brokers)
		pubs = append(pubs, p)
	}

	switch len(pubs) {
	case 0:
		return events.Nop{}, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}

func newDocStore(cfg config.DocStoreConfig, logger *slog.Logger) (*docstore.Store, error) {
	store, err := docstore.New(docstore.Config{
		Path:     cfg.Path,
		Compress: cfg.Compress,
		Embedder: docstore.EmbedderConfig{
			Provider:  cfg.Embedder.Provider,
			Model:     cfg.Embedder.Model,
			BaseURL:   cfg.Embedder.BaseURL,
			APIKey:    cfg.Embedder.APIKey,
			Dimension: cfg.Embedder.Dimension,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	return store, nil
}

// NewRegistry registers the document editor and every remote agent in cfg.
// senderFactory may be nil to use the a2a-go client.
func NewRegistry(cfg config.AgentsConfig, docs *docstore.Store, logger *slog.Logger, senderFactory remote.SenderFactory) (*agent.Registry, error) {
	registry := agent.NewRegistry(logger)

	if cfg.DocumentEditor.IsEnabled() {
		if docs == nil {
			return nil, fmt.Errorf("document editor requires a document store")
		}
		editor := docedit.New(docs,
			docedit.WithLogger(logger),
			docedit.WithDefaultDocumentType(cfg.DocumentEditor.DefaultDocumentType),
			docedit.WithImportRoot(cfg.DocumentEditor.ImportRoot))
		if err := registry.Register(docedit.Type, editor.Agent(), editor.Capabilities(), ""); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", docedit.Type, err)
		}
	}

	for _, rc := range cfg.Remote {
		r, err := remote.New(remoteConfig(rc), remote.WithLogger(logger), remote.WithSenderFactory(senderFactory))
		if err != nil {
			return nil, err
		}
		a := r.Agent()
		caps := map[string]any{
			agent.CapabilityName:        a.Name(),
			agent.CapabilityDescription: a.Description(),
			agent.CapabilityActions:     agent.DescribeActions(a),
		}
		if err := registry.Register(rc.Type, a, caps, rc.Endpoint); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", rc.Type, err)
		}
	}

	return registry, nil
}

func remoteConfig(rc config.RemoteAgentConfig) remote.Config {
	actions := make([]remote.ActionConfig, 0, len(rc.Actions))
	for _, a := range rc.Actions {
		actions = append(actions, remote.ActionConfig{Name: a.Name, Description: a.Description})
	}
	return remote.Config{
		Type:        rc.Type,
		Name:        rc.Name,
		Description: rc.Description,
		Endpoint:    rc.Endpoint,
		Actions:     actions,
		Timeout:     rc.Timeout,
	}
}
