package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/server/changes"
)

type pushRequest struct {
	Entity    string          `json:"entity"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp"`
}

type pushResponse struct {
	OK         bool            `json:"ok"`
	Conflict   bool            `json:"conflict,omitempty"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
	Version    int64           `json:"version,omitempty"`
}

type pullResponse struct {
	Changes    []*changes.Change `json:"changes"`
	ServerTime int64             `json:"serverTime"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req pushRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.changes.Push(ctx, accountFrom(ctx), req.Entity, req.Operation, req.Data, req.DeviceID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if res.Conflict {
		writeJSON(w, http.StatusOK, pushResponse{Conflict: true, ServerData: res.Current.Data})
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{OK: true, Version: res.Stored.Version})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var since time.Time
	if raw := r.URL.Query().Get(common.SinceParam); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, "since must be unix milliseconds")
			return
		}
		if ms > 0 {
			since = time.UnixMilli(ms).UTC()
		}
	}

	res, err := s.changes.Pull(ctx, accountFrom(ctx), since)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list := res.Changes
	if list == nil {
		list = []*changes.Change{}
	}
	writeJSON(w, http.StatusOK, pullResponse{Changes: list, ServerTime: res.ServerTime.UnixMilli()})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorInvalidOperation), errors.Is(err, common.ErrorMissingUUID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, common.ErrorInternal.Error())
	}
}
