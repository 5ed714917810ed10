package models

// Peer is a host found by discovery, as returned by GET /discover.
type Peer struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	URL    string `json:"url"`
	Source string `json:"source"`
	QRCode string `json:"qr_code,omitempty"`
}

// ServerInfo describes this host's own identity, as returned by GET /server-info.
type ServerInfo struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	URL    string `json:"url"`
	QRCode string `json:"qr_code,omitempty"`
}
