package protocol

import "geik.xyz/farmer/internal/event"

// HELLO (game server -> farmer)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ServerName      string `json:"server_name"`
}

// WELCOME (farmer -> game server)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	ServerID        string         `json:"server_id,omitempty"`
	Modules         []ModuleRef    `json:"modules"`
	Farmers         int            `json:"farmers"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type ModuleRef struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type CatalogDigests struct {
	Items  DigestRef `json:"items"`
	Levels DigestRef `json:"levels"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// EVENT (game server -> farmer): one gameplay event. Seq is chosen by the
// sender and echoed in the ACK.
type EventMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Seq             uint64      `json:"seq"`
	Event           event.Event `json:"event"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          uint64 `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// NOTIFY (farmer -> game server): a rendered chat message for a player.
type NotifyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	Message         string `json:"message"`
}
