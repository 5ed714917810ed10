package network

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	_ "embed"

	"lanshare/catalog"
	"lanshare/logger"
	"lanshare/models"
	"lanshare/storage"
)

// multipartSlack covers multipart framing around the single file part.
const multipartSlack = 1 << 20

//go:embed static/index.html
var indexHTML []byte

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	identity := s.opts.Identity
	serverURL := "http://" + identity.IP + ":" + strconv.Itoa(identity.Port)

	info := models.ServerInfo{
		Name: identity.Name,
		IP:   identity.IP,
		Port: identity.Port,
		URL:  serverURL,
	}
	qr, err := QRCodeBase64(serverURL, s.opts.QRSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	info.QRCode = qr

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.opts.Discoverer.Discover(r.Context())
	if err != nil {
		if len(found) == 0 {
			writeDomainError(w, err)
			return
		}
		logger.Warnf("network: discovery ended early: %v", err)
	}

	peers := make([]models.Peer, 0, len(found))
	for _, peer := range found {
		entry := models.Peer{
			Name:   peer.Name,
			IP:     peer.IP,
			Port:   peer.Port,
			URL:    peer.URL(),
			Source: peer.Source,
		}
		if qr, err := QRCodeBase64(entry.URL, s.opts.QRSize); err != nil {
			logger.Debugf("network: QR for %s: %v", entry.URL, err)
		} else {
			entry.QRCode = qr
		}
		peers = append(peers, entry)
	}

	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.Catalog.MaxSize()+multipartSlack)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, "expected a multipart/form-data body")
		return
	}

	var part io.Reader
	var name string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, kindBadRequest, `missing "file" field`)
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if p.FormName() == "file" {
			part, name = p, p.FileName()
			break
		}
		_ = p.Close()
	}

	received, err := s.opts.Catalog.Receive(r.Context(), name, part)
	if err != nil {
		s.recordUpload(r, name, started, storage.Transfer{}, err)
		writeDomainError(w, err)
		return
	}

	s.recordUpload(r, received.Name, started, storage.Transfer{
		Size:     received.Size,
		Checksum: received.Checksum,
	}, nil)

	logger.Infof("network: received %s (%d bytes) from %s", received.Name, received.Size, remoteHost(r))
	writeJSON(w, http.StatusOK, models.UploadResult{
		Filename:    received.Name,
		Size:        received.Size,
		Status:      "success",
		DownloadURL: downloadURL(received.Name),
		Checksum:    received.Checksum,
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	stored, err := s.opts.Catalog.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	files := make([]models.FileEntry, 0, len(stored))
	for _, f := range stored {
		files = append(files, models.FileEntry{
			Name:        f.Name,
			Size:        f.Size,
			Modified:    float64(f.Modified.UnixNano()) / float64(time.Second),
			DownloadURL: downloadURL(f.Name),
		})
	}

	writeJSON(w, http.StatusOK, models.FileList{Files: files})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	name := r.PathValue("filename")

	f, info, err := s.opts.Catalog.Open(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	h.Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name, info.Modified, f)

	if r.Method == http.MethodGet && r.Header.Get("Range") == "" {
		s.record(storage.Transfer{
			Direction:  storage.DirectionSend,
			Filename:   info.Name,
			Size:       info.Size,
			Status:     storage.StatusComplete,
			RemoteAddr: stringRef(remoteHost(r)),
			StartedAt:  started.UnixMilli(),
		})
	}
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.TransferFilter{
		Direction: query.Get("direction"),
		Status:    query.Get("status"),
		Filename:  query.Get("filename"),
		Limit:     DefaultTransferLimit,
	}

	switch filter.Direction {
	case "", storage.DirectionReceive, storage.DirectionSend:
	default:
		writeError(w, http.StatusBadRequest, kindBadRequest, "direction must be receive or send")
		return
	}
	switch filter.Status {
	case "", storage.StatusComplete, storage.StatusRejected, storage.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, kindBadRequest, "status must be complete, rejected or failed")
		return
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, kindBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, kindBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	out := models.TransferList{Transfers: make([]models.Transfer, 0)}
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	rows, err := s.opts.History.ListTransfers(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, row := range rows {
		out.Transfers = append(out.Transfers, transferModel(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeDomainError(w, storage.ErrNotFound)
		return
	}
	row, err := s.opts.History.GetTransfer(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferModel(*row))
}

func (s *Server) recordUpload(r *http.Request, name string, started time.Time, transfer storage.Transfer, uploadErr error) {
	if name == "" {
		name = "(unnamed)"
	}
	transfer.Direction = storage.DirectionReceive
	transfer.Filename = name
	transfer.RemoteAddr = stringRef(remoteHost(r))
	transfer.StartedAt = started.UnixMilli()
	transfer.Status = storage.StatusComplete

	if uploadErr != nil {
		if errors.Is(uploadErr, catalog.ErrInvalidName) {
			return
		}
		transfer.Status = storage.StatusFailed
		if status, _, _ := classify(uploadErr); status == http.StatusRequestEntityTooLarge {
			transfer.Status = storage.StatusRejected
		}
		transfer.Error = stringRef(uploadErr.Error())
	}
	s.record(transfer)
}

func (s *Server) record(transfer storage.Transfer) {
	if s.opts.History == nil {
		return
	}
	if _, err := s.opts.History.RecordTransfer(transfer); err != nil {
		logger.Warnf("network: record transfer of %s: %v", transfer.Filename, err)
	}
}

func transferModel(row storage.Transfer) models.Transfer {
	out := models.Transfer{
		ID:         row.TransferID,
		Direction:  row.Direction,
		Filename:   row.Filename,
		Size:       row.Size,
		Checksum:   row.Checksum,
		Status:     row.Status,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}
	if row.RemoteAddr != nil {
		out.RemoteAddr = *row.RemoteAddr
	}
	if row.Error != nil {
		out.Error = *row.Error
	}
	return out
}

func downloadURL(name string) string {
	return "/download/" + url.PathEscape(name)
}

func stringRef(s string) *string {
	return &s
}
