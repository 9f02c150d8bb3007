package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tournevent/kuaidi100/internal/telemetry"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

// Sink consumes verified notifications. The returned Ack is sent back to the
// provider; anything but success makes the provider deliver again.
type Sink interface {
	Consume(ctx context.Context, deliveryID string, result *kuaidi100.NotificationResult) kuaidi100.Ack
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, deliveryID string, result *kuaidi100.NotificationResult) kuaidi100.Ack

// Consume implements Sink.
func (f SinkFunc) Consume(ctx context.Context, deliveryID string, result *kuaidi100.NotificationResult) kuaidi100.Ack {
	return f(ctx, deliveryID, result)
}

// LogSink logs every notification and acknowledges it.
type LogSink struct {
	Logger *otelzap.Logger
}

// Consume implements Sink.
func (l LogSink) Consume(ctx context.Context, deliveryID string, result *kuaidi100.NotificationResult) kuaidi100.Ack {
	fields := []zap.Field{
		zap.String("delivery_id", deliveryID),
		zap.String("status", string(result.Tracking.Status)),
		zap.String("waybill", result.Domestic.WaybillNo),
		zap.String("company", result.Domestic.Company),
		zap.Stringer("state", result.Domestic.State),
		zap.Bool("signed", result.Domestic.Signed),
		zap.Int("events", len(result.Domestic.Items)),
	}
	if result.Tracking.Fake {
		fields = append(fields, zap.Bool("fake", true))
	}
	if result.Tracking.SuggestedCompany != "" {
		fields = append(fields, zap.String("suggested_company", result.Tracking.SuggestedCompany))
	}
	if result.Overseas != nil {
		fields = append(fields, zap.String("overseas_company", result.Overseas.Company))
	}
	l.Logger.Ctx(ctx).Info("Tracking notification", fields...)
	return kuaidi100.AckSuccess()
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	deliveryID := uuid.NewString()
	ctx, span := s.tracer.Start(r.Context(), "Server.handleNotification")
	defer span.End()
	span.SetAttributes(attribute.String("notification.delivery_id", deliveryID))

	logger := s.logger.Ctx(ctx)
	idField := zap.String("delivery_id", deliveryID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordNotification("", telemetry.OutcomeInvalid)
		writeAck(w, http.StatusBadRequest, kuaidi100.AckError(http.StatusBadRequest, "unreadable body"))
		return
	}

	first, err := s.guard.Claim(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay guard unavailable")
		logger.Error("Replay guard failed", idField, zap.Error(err))
		writeAck(w, http.StatusInternalServerError, kuaidi100.AckFailure())
		return
	}
	if !first {
		span.AddEvent("duplicate notification")
		logger.Info("Duplicate notification ignored", idField)
		s.metrics.RecordNotification("", telemetry.OutcomeDuplicate)
		writeAck(w, http.StatusOK, kuaidi100.AckSuccess())
		return
	}

	var status string
	var accepted bool
	ackBody, err := s.service.HandleNotification(string(body), "", func(result *kuaidi100.NotificationResult) kuaidi100.Ack {
		status = string(result.Tracking.Status)
		span.SetAttributes(
			attribute.String("notification.status", status),
			attribute.String("notification.waybill", result.Domestic.WaybillNo),
		)
		ack := s.sink.Consume(ctx, deliveryID, result)
		accepted = ack.Result
		return ack
	})
	if err != nil {
		s.release(ctx, body, logger, idField)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, kuaidi100.ErrForgedNotification) {
			logger.Warn("Rejected forged notification", idField)
			s.metrics.RecordNotification("", telemetry.OutcomeForged)
			writeAck(w, http.StatusForbidden, kuaidi100.AckError(http.StatusForbidden, "signature mismatch"))
			return
		}
		logger.Warn("Rejected invalid notification", idField, zap.Error(err))
		s.metrics.RecordNotification("", telemetry.OutcomeInvalid)
		writeAck(w, http.StatusBadRequest, kuaidi100.AckError(http.StatusBadRequest, "invalid notification"))
		return
	}

	if !accepted {
		s.release(ctx, body, logger, idField)
		s.metrics.RecordNotification(status, telemetry.OutcomeRejected)
	} else {
		s.metrics.RecordNotification(status, telemetry.OutcomeAccepted)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ackBody)
}

// release lets the provider's redelivery through after a failed attempt.
func (s *Server) release(ctx context.Context, body []byte, logger otelzap.LoggerWithCtx, idField zap.Field) {
	if err := s.guard.Release(ctx, body); err != nil {
		logger.Error("Failed to release replay guard", idField, zap.Error(err))
	}
}

func writeAck(w http.ResponseWriter, status int, ack kuaidi100.Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(ack.Bytes())
}
