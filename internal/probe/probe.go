package probe

import (
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"go.uber.org/zap"
)

// Result summarizes what an RTSP source advertises.
type Result struct {
	MediaCount int      `json:"media_count"`
	Formats    []string `json:"formats"`
}

// Prober validates RTSP sources by performing a DESCRIBE against them.
type Prober struct {
	transport string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewProber creates a prober. transport is "tcp" or "udp".
func NewProber(transport string, timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}
}

// Describe connects to the source, issues a DESCRIBE and reports the
// advertised media. A failure means the source is unreachable or not a
// valid RTSP endpoint.
func (p *Prober) Describe(rawURL string) (*Result, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid RTSP URL: %w", err)
	}

	client := &gortsplib.Client{
		Transport:    p.clientTransport(),
		ReadTimeout:  p.timeout,
		WriteTimeout: p.timeout,
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("failed to describe: %w", err)
	}

	result := &Result{MediaCount: len(desc.Medias)}
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			result.Formats = append(result.Formats,
				fmt.Sprintf("%s/%s", media.Type, forma.Codec()))
		}
	}

	p.logger.Info("Source described",
		zap.Int("media_count", result.MediaCount),
		zap.Strings("formats", result.Formats),
	)
	return result, nil
}

func (p *Prober) clientTransport() *gortsplib.Transport {
	if p.transport == "udp" {
		t := gortsplib.TransportUDP
		return &t
	}
	t := gortsplib.TransportTCP
	return &t
}
