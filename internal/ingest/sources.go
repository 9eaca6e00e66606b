package ingest

import (
	"fmt"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/config"
	"ais_ingest/internal/stream"
	"ais_ingest/internal/worker"
)

// Sources builds the frame sources named by cfg. With SplitBoxes every
// bounding box of the preset gets its own websocket connector; otherwise
// one connector subscribes to all of them.
func Sources(cfg config.Config, opts ...stream.Option) ([]stream.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return []stream.Source{stream.NewFileSource(cfg.InputPath, opts...)}, nil
	case config.SourceNATS:
		return []stream.Source{stream.NewNATSSource(stream.NATSConfig{
			URL:           cfg.NATSURL,
			Subject:       cfg.NATSSubject,
			ReconnectWait: cfg.ReconnectDelay,
		}, opts...)}, nil
	}

	boxes, err := cfg.BoundingBoxes()
	if err != nil {
		return nil, err
	}

	base := stream.Config{
		Name:             cfg.Preset,
		URL:              cfg.URL,
		APIKey:           cfg.APIKey,
		BoundingBoxes:    boxes,
		MessageTypes:     cfg.MessageTypes,
		ReconnectDelay:   cfg.ReconnectDelay,
		PingInterval:     cfg.PingInterval,
		PongTimeout:      cfg.PongTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if !cfg.SplitBoxes || len(boxes) == 1 {
		return []stream.Source{stream.NewConnector(base, opts...)}, nil
	}

	sources := make([]stream.Source, 0, len(boxes))
	for i, box := range boxes {
		c := base
		c.Name = fmt.Sprintf("%s-%d", cfg.Preset, i)
		c.BoundingBoxes = []ais.BoundingBox{box}
		sources = append(sources, stream.NewConnector(c, opts...))
	}
	return sources, nil
}

// PipelineConfig extracts the persistence settings from cfg. cfg must
// already be valid.
func PipelineConfig(cfg config.Config) Config {
	return Config{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		Policy:        worker.OverflowPolicy(cfg.Policy),
		WriteTimeout:  cfg.WriteTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
		DataSource:    cfg.DataSource,
	}
}
