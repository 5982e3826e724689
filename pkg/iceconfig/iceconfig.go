// Package iceconfig turns the configured STUN/TURN endpoints into the ICE
// server list browsers pass to RTCPeerConnection.
package iceconfig

import (
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"consultcall-backend/pkg/config"
)

// Response is the body served on the ICE endpoints
type Response struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Build validates every URL and groups them into at most two servers: one
// for STUN and, when configured, one for TURN carrying the credentials.
func Build(cfg config.ICEConfig) (*Response, error) {
	servers := make([]webrtc.ICEServer, 0, 2)

	if len(cfg.STUNURLs) > 0 {
		if err := validate(cfg.STUNURLs, stun.SchemeTypeSTUN, stun.SchemeTypeSTUNS); err != nil {
			return nil, err
		}
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}

	if len(cfg.TURNURLs) > 0 {
		if err := validate(cfg.TURNURLs, stun.SchemeTypeTURN, stun.SchemeTypeTURNS); err != nil {
			return nil, err
		}
		if cfg.TURNUsername == "" || cfg.TURNCredential == "" {
			return nil, fmt.Errorf("turn servers require a username and credential")
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.TURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}

	return &Response{ICEServers: servers}, nil
}

func validate(urls []string, allowed ...stun.SchemeType) error {
	for _, raw := range urls {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("invalid ice url %q: %w", raw, err)
		}
		ok := false
		for _, scheme := range allowed {
			if uri.Scheme == scheme {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("ice url %q has unexpected scheme %s", raw, uri.Scheme)
		}
	}
	return nil
}
