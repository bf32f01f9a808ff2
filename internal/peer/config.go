package peer

import (
	"time"

	"github.com/immxrtalbeast/meshconf/internal/config"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	// NegotiationTimeout fails a link whose offer got no answer in time.
	// Zero waits forever.
	NegotiationTimeout time.Duration
}

func ConfigFrom(cfg config.WebRTCConfig) Config {
	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           cfg.TURNServers,
			Username:       cfg.TURNUsername,
			Credential:     cfg.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return Config{
		ICEServers:         servers,
		NegotiationTimeout: cfg.NegotiationTimeout,
	}
}
