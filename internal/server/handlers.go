package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tournevent/kuaidi100/internal/batch"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

const maxBatchItems = 100

type trackRequest struct {
	WaybillNo       string  `json:"waybillNo"`
	Company         *string `json:"company"`
	From            *string `json:"from"`
	To              *string `json:"to"`
	Salt            *string `json:"salt"`
	NotificationURL *string `json:"notificationUrl"`
	International   *bool   `json:"international"`
}

func (t trackRequest) options() kuaidi100.TrackingOptions {
	return kuaidi100.TrackingOptions{
		Company:         kuaidi100.FromPtr(t.Company),
		From:            kuaidi100.FromPtr(t.From),
		To:              kuaidi100.FromPtr(t.To),
		Salt:            kuaidi100.FromPtr(t.Salt),
		NotificationURL: kuaidi100.FromPtr(t.NotificationURL),
		International:   kuaidi100.FromPtr(t.International),
	}
}

type queryItem struct {
	Company   string  `json:"com"`
	WaybillNo string  `json:"num"`
	From      *string `json:"from"`
	To        *string `json:"to"`
}

type batchRequest struct {
	Items []queryItem `json:"items"`
}

type batchItemResult struct {
	WaybillNo string               `json:"waybillNo"`
	Company   string               `json:"company"`
	Logistics *kuaidi100.Logistics `json:"logistics,omitempty"`
	Error     *errorBody           `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItemResult `json:"results"`
	Failed  int               `json:"failed"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Message: "Invalid JSON: " + err.Error()}})
		return
	}

	start := time.Now()
	err := s.service.Track(ctx, req.WaybillNo, req.options())
	s.observe("track", start, err)
	if err != nil {
		s.logger.Ctx(ctx).Warn("Track failed", zap.String("waybill", req.WaybillNo), zap.Error(err))
		s.writeError(w, err)
		return
	}

	s.logger.Ctx(ctx).Info("Tracking subscribed", zap.String("waybill", req.WaybillNo))
	writeJSON(w, http.StatusAccepted, map[string]string{"waybillNo": req.WaybillNo, "status": "subscribed"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := kuaidi100.QueryRequest{Company: q.Get("com"), WaybillNo: q.Get("num")}
	if q.Has("from") {
		req.From = kuaidi100.Some(q.Get("from"))
	}
	if q.Has("to") {
		req.To = kuaidi100.Some(q.Get("to"))
	}

	start := time.Now()
	logistics, err := s.service.Query(ctx, req)
	s.observe("query", start, err)
	if err != nil {
		s.logger.Ctx(ctx).Warn("Query failed", zap.String("waybill", req.WaybillNo), zap.Error(err))
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, logistics)
}

func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Message: "Invalid JSON: " + err.Error()}})
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Message: "items must contain between 1 and 100 entries"}})
		return
	}

	reqs := make([]kuaidi100.QueryRequest, len(req.Items))
	for i, item := range req.Items {
		reqs[i] = kuaidi100.QueryRequest{
			Company:   item.Company,
			WaybillNo: item.WaybillNo,
			From:      kuaidi100.FromPtr(item.From),
			To:        kuaidi100.FromPtr(item.To),
		}
	}

	start := time.Now()
	results := s.runner.Query(ctx, reqs)

	resp := batchResponse{Results: make([]batchItemResult, len(results)), Failed: batch.Failed(results)}
	for i, res := range results {
		item := batchItemResult{WaybillNo: res.Request.WaybillNo, Company: res.Request.Company}
		if res.Err != nil {
			s.recordError("query", res.Err)
			_, body := classify(res.Err)
			item.Error = &body
		} else {
			logistics := res.Logistics
			item.Logistics = &logistics
		}
		resp.Results[i] = item
	}
	s.metrics.RecordRequest("query_batch", "ok", time.Since(start).Seconds())

	s.logger.Ctx(ctx).Info("Batch query completed",
		zap.Int("items", len(results)),
		zap.Int("failed", resp.Failed),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.recordError(operation, err)
	}
	s.metrics.RecordRequest(operation, status, time.Since(start).Seconds())
}

func (s *Server) recordError(operation string, err error) {
	s.metrics.RecordError(operation, errorType(err))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, errorResponse{Error: body})
}

// classify maps a provider error onto an HTTP status and response body.
func classify(err error) (int, errorBody) {
	var perr *kuaidi100.ProviderError
	switch {
	case errors.Is(err, kuaidi100.ErrInvalidWaybill):
		return http.StatusBadRequest, errorBody{Message: err.Error(), Code: "INVALID_WAYBILL"}
	case errors.As(err, &perr):
		return http.StatusBadGateway, errorBody{Message: perr.Message, Code: perr.Code}
	case errors.Is(err, kuaidi100.ErrTransport):
		return http.StatusBadGateway, errorBody{Message: err.Error(), Code: "TRANSPORT"}
	case errors.Is(err, kuaidi100.ErrProtocol):
		return http.StatusBadGateway, errorBody{Message: err.Error(), Code: "PROTOCOL"}
	default:
		return http.StatusInternalServerError, errorBody{Message: err.Error(), Code: "INTERNAL"}
	}
}

func errorType(err error) string {
	var perr *kuaidi100.ProviderError
	switch {
	case errors.Is(err, kuaidi100.ErrInvalidWaybill):
		return "validation"
	case errors.As(err, &perr):
		return "provider"
	case errors.Is(err, kuaidi100.ErrTransport):
		return "transport"
	case errors.Is(err, kuaidi100.ErrProtocol):
		return "protocol"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
