package models

// Transfer is one entry of the transfer history. Timestamps are Unix milliseconds.
type Transfer struct {
	ID         string `json:"id"`
	Direction  string `json:"direction"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum,omitempty"`
	Status     string `json:"status"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// TransferList is the body of GET /transfers.
type TransferList struct {
	Transfers []Transfer `json:"transfers"`
}
