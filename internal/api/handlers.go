package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"rune-holders/internal/features/publish"
	"rune-holders/internal/features/run"
	logging "rune-holders/internal/infra/log"

	"go.uber.org/zap"
)

const maxRequestBody = 1 << 16

type triggerResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type updateErrorResponse struct {
	Status       string                `json:"status"`
	Message      string                `json:"message"`
	RunID        string                `json:"run_id,omitempty"`
	UploadResult []publish.ChunkResult `json:"upload_result,omitempty"`
}

type rankRequest struct {
	Address string `json:"address"`
}

type rankResponse struct {
	Status         string      `json:"status"`
	Rank           int         `json:"rank"`
	Balance        json.Number `json:"balance"`
	NonZeroHolders int         `json:"non_zero_holders"`
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.runner.Status())
}

func (c *Controller) HandleUpdateHolders(w http.ResponseWriter, r *http.Request) {
	if c.mode == ModeBackground {
		st, started := c.runner.Trigger()
		if started {
			writeJSON(w, http.StatusAccepted, triggerResponse{Status: "started", RunID: st.RunID})
			return
		}
		if st.State == run.StateRunning {
			writeJSON(w, http.StatusOK, triggerResponse{Status: "running", RunID: st.RunID})
			return
		}
		writeError(w, http.StatusServiceUnavailable, "holders updates are not accepted right now")
		return
	}

	// the run must outlive a client that hangs up
	res, err := c.runner.RunNow(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, run.ErrAlreadyRunning):
		st := c.runner.Status()
		writeJSON(w, http.StatusConflict, triggerResponse{Status: "running", RunID: st.RunID, Message: err.Error()})
	case err != nil:
		resp := updateErrorResponse{Status: "error", Message: err.Error()}
		if res != nil {
			resp.RunID = res.RunID
			resp.UploadResult = res.UploadResult
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (c *Controller) HandleCheckHolderRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object with an address")
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		writeError(w, http.StatusBadRequest, "Please provide a BTC address")
		return
	}

	if c.refreshBeforeLookup {
		_, err := c.runner.RunNow(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, run.ErrAlreadyRunning):
			logging.LogInfo("Update in progress, answering from last snapshot", zap.String("address", address))
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	rk, found, err := c.lookup.RankOf(r.Context(), address)
	if err != nil {
		logging.LogError("Rank lookup failed", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "address not found among non-zero holders")
		return
	}

	writeJSON(w, http.StatusOK, rankResponse{
		Status:         "success",
		Rank:           rk.Rank,
		Balance:        json.Number(rk.Balance.String()),
		NonZeroHolders: rk.NonZeroHolders,
	})
}
