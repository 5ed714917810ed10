package models

// FileEntry describes one file in the catalog listing. Modified is in Unix
// seconds with a fractional part.
type FileEntry struct {
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	Modified    float64 `json:"modified"`
	DownloadURL string  `json:"download_url"`
}

// FileList is the body of GET /files.
type FileList struct {
	Files []FileEntry `json:"files"`
}

// UploadResult is the body of a successful POST /upload.
type UploadResult struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
