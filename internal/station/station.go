/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package station loads the station manifest — the only on-disk document
// this service reads (spec §4.2/§6) — and serves it as the cached JSON
// payload behind GET /api/station.
//
// Grounded on internal/webrtc/broadcaster.go's createPeerConnection, which
// assembles a webrtc.ICEServer list from STUNServer/TURNServer/TURNUsername/
// TURNPassword config fields; the manifest generalizes that single-server
// shape to the lists spec.md's `/api/station` document nests under `ice`.
package station

import (
	"fmt"
	"os"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

// manifestDocument is the on-disk YAML shape (spec §6 DOMAIN STACK): a
// station identity plus the ICE server lists needed for browser peers to
// negotiate connectivity.
type manifestDocument struct {
	StationID    string     `yaml:"station_id"`
	Name         string     `yaml:"name"`
	SignalingURL string     `yaml:"signaling_url"`
	ICE          iceServers `yaml:"ice"`
}

type iceServers struct {
	STUN []string    `yaml:"stun"`
	TURN []turnEntry `yaml:"turn"`
}

type turnEntry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Station is the loaded, validated manifest, cached for the lifetime of
// the process (spec §6: "Station manifest hot-reload is not added").
type Station struct {
	StationID    string
	Name         string
	SignalingURL string
	STUN         []string
	TURN         []webrtc.ICEServer
}

// Load reads and validates the station manifest at path. A missing or
// malformed manifest is a startup-fatal configuration error (spec §4.2),
// matching the teacher's initDependencies fail-fast pattern.
func Load(path string) (*Station, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station manifest: %w", err)
	}

	var doc manifestDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse station manifest: %w", err)
	}

	if doc.StationID == "" {
		return nil, fmt.Errorf("station manifest: station_id is required")
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("station manifest: name is required")
	}
	if doc.SignalingURL == "" {
		return nil, fmt.Errorf("station manifest: signaling_url is required")
	}

	turn := make([]webrtc.ICEServer, 0, len(doc.ICE.TURN))
	for _, t := range doc.ICE.TURN {
		if t.URL == "" {
			return nil, fmt.Errorf("station manifest: turn entry missing url")
		}
		entry := webrtc.ICEServer{URLs: []string{t.URL}}
		if t.Username != "" {
			entry.Username = t.Username
			entry.Credential = t.Password
			entry.CredentialType = webrtc.ICECredentialTypePassword
		}
		turn = append(turn, entry)
	}

	return &Station{
		StationID:    doc.StationID,
		Name:         doc.Name,
		SignalingURL: doc.SignalingURL,
		STUN:         doc.ICE.STUN,
		TURN:         turn,
	}, nil
}

// icePayload and StationPayload define the JSON document GET /api/station
// serves, independent of the YAML manifest's internal field names. The
// signaling URL is a flat `signalingUrl` field, each TURN entry carries a
// single `url` and the username, and TURN passwords are not included.
type icePayload struct {
	STUN []string      `json:"stun"`
	TURN []turnPayload `json:"turn"`
}

type turnPayload struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
}

// StationPayload is the JSON document served verbatim by GET /api/station.
type StationPayload struct {
	StationID    string     `json:"stationId"`
	Name         string     `json:"name"`
	SignalingURL string     `json:"signalingUrl"`
	ICE          icePayload `json:"ice"`
}

// Payload renders s as the cached JSON document GET /api/station serves.
// TURN credentials are not echoed back in full: only the username,
// matching the teacher's broadcaster which never exposes a TURN secret to
// the browser outside the signed ICEServer negotiation it issues per peer.
func (s *Station) Payload() StationPayload {
	turn := make([]turnPayload, 0, len(s.TURN))
	for _, t := range s.TURN {
		url := ""
		if len(t.URLs) > 0 {
			url = t.URLs[0]
		}
		turn = append(turn, turnPayload{URL: url, Username: t.Username})
	}
	return StationPayload{
		StationID:    s.StationID,
		Name:         s.Name,
		SignalingURL: s.SignalingURL,
		ICE:          icePayload{STUN: s.STUN, TURN: turn},
	}
}
