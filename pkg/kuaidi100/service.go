// Package kuaidi100 integrates with the Kuaidi100 parcel-tracking provider:
// tracking subscriptions, signed push notifications and synchronous queries.
//
// The package does no logging, retrying or caching. Every public operation
// performs at most one HTTP request through the configured Transport and
// reports failures to the caller.
package kuaidi100

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// Provider endpoints. Subscriptions go to the poll endpoint, synchronous
// lookups to the query endpoint.
const (
	DefaultSubscribeURL = "http://poll.kuaidi100.com/poll"
	DefaultQueryURL     = "http://poll.kuaidi100.com/poll/query.do"
)

const maxWaybillLength = 32

var validate = validator.New()

// Config holds the provider credentials and default options.
type Config struct {
	Key             string // authorization key issued by the provider
	Customer        string // company id issued by the provider, used to sign queries
	NotificationURL string // default callback for subscriptions
	Salt            string // default notification salt; empty means the waybill number
	SubscribeURL    string
	QueryURL        string
	Timeout         time.Duration
}

// Service is the Kuaidi100 facade. It holds only immutable configuration and
// is safe for concurrent use when its Transport is.
type Service struct {
	config    Config
	transport Transport
}

// NotificationHandler consumes a verified notification and decides the
// acknowledgment sent back to the provider.
type NotificationHandler func(*NotificationResult) Ack

// New creates a Service backed by the HTTP transport.
func New(cfg Config) *Service {
	return NewWithTransport(cfg, NewHTTPTransport(HTTPTransportConfig{Timeout: cfg.Timeout}))
}

// NewWithTransport creates a Service with a custom transport.
// This is useful for injecting mock transports in tests.
func NewWithTransport(cfg Config, transport Transport) *Service {
	if cfg.SubscribeURL == "" {
		cfg.SubscribeURL = DefaultSubscribeURL
	}
	if cfg.QueryURL == "" {
		cfg.QueryURL = DefaultQueryURL
	}
	return &Service{
		config:    cfg,
		transport: transport,
	}
}

// Track subscribes to status notifications for waybillNo.
func (s *Service) Track(ctx context.Context, waybillNo string, opts TrackingOptions) error {
	if err := validateWaybillNo(waybillNo); err != nil {
		return err
	}

	if !opts.Salt.IsSet() && s.config.Salt != "" {
		opts.Salt = Some(s.config.Salt)
	}
	notificationURL := opts.NotificationURL.OrElse(s.config.NotificationURL)

	form, err := BuildSubscribeRequest(s.config.Key, waybillNo, notificationURL, opts)
	if err != nil {
		return err
	}

	body, err := s.post(ctx, s.config.SubscribeURL, form)
	if err != nil {
		return err
	}
	return ParseSubscribeAck(body)
}

// Query looks up the current status of a waybill.
func (s *Service) Query(ctx context.Context, req QueryRequest) (Logistics, error) {
	if err := validateWaybillNo(req.WaybillNo); err != nil {
		return Logistics{}, err
	}

	form := BuildQueryRequest(s.config.Customer, s.config.Key, req)

	body, err := s.post(ctx, s.config.QueryURL, form)
	if err != nil {
		return Logistics{}, err
	}
	return ParseQueryResponse(body)
}

// ParseNotification verifies and decodes a push notification body. The salt
// argument overrides the configured salt; both empty means the waybill number.
func (s *Service) ParseNotification(body, salt string) (*NotificationResult, error) {
	if salt == "" {
		salt = s.config.Salt
	}
	return ParseNotification(body, salt)
}

// HandleNotification parses body, passes the result to handler and returns
// the acknowledgment body to write back to the provider. The handler is not
// called when the notification is invalid or forged. A nil handler rejects
// every valid notification so the provider delivers it again.
func (s *Service) HandleNotification(body, salt string, handler NotificationHandler) ([]byte, error) {
	result, err := s.ParseNotification(body, salt)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return AckFailure().Bytes(), nil
	}
	return handler(result).Bytes(), nil
}

func (s *Service) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	status, body, err := s.transport.PostForm(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: status}
	}
	return body, nil
}

func validateWaybillNo(waybillNo string) error {
	if err := validate.Var(waybillNo, fmt.Sprintf("required,max=%d", maxWaybillLength)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidWaybill, waybillNo)
	}
	return nil
}
