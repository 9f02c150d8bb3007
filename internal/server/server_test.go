package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/kuaidi100/internal/replay"
	"github.com/tournevent/kuaidi100/internal/server"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

const pollingParam = `{"status":"polling","message":"","autoCheck":"0","comNew":"","lastResult":{"state":"0","ischeck":"0","com":"yuantong","nu":"V030344422","data":[{"context":"上海分拨中心/下车扫描","ftime":"2012-08-27 23:22:42","status":"在途"}]}}`

type testEnv struct {
	handler   http.Handler
	transport *kuaidi100.MockTransport
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, opts ...server.Option) *testEnv {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	transport := kuaidi100.NewMockTransport()
	svc := kuaidi100.NewWithTransport(kuaidi100.Config{
		Key:             "KEY",
		Customer:        "CUSTOMER",
		NotificationURL: "https://example.com/notifications",
	}, transport)
	registry := prometheus.NewRegistry()

	srv := server.New(server.Config{Port: 8080, BatchConcurrency: 2}, svc, logger,
		append([]server.Option{server.WithRegistry(registry)}, opts...)...)

	return &testEnv{handler: srv.Handler(), transport: transport, registry: registry}
}

func (e *testEnv) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func notificationBody(param, salt string) string {
	form := url.Values{}
	form.Set("sign", kuaidi100.Sign(param, salt))
	form.Set("param", param)
	return form.Encode()
}

func (e *testEnv) notify(body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/notifications", "application/x-www-form-urlencoded", body)
}

func notificationCount(t *testing.T, reg *prometheus.Registry, status, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "kuaidi100_notifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["status"] == status && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.notify(notificationBody(pollingParam, "V030344422"))

	rec := env.do(http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kuaidi100_notifications_total")
}

func TestServer_Notification_Accepted(t *testing.T) {
	var got *kuaidi100.NotificationResult
	var deliveryID string
	sink := server.SinkFunc(func(ctx context.Context, id string, r *kuaidi100.NotificationResult) kuaidi100.Ack {
		got, deliveryID = r, id
		return kuaidi100.AckSuccess()
	})
	env := newTestEnv(t, server.WithSink(sink))

	rec := env.notify(notificationBody(pollingParam, "V030344422"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"result":true,"returnCode":"200","message":"success"}`, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "V030344422", got.Domestic.WaybillNo)
	assert.Len(t, deliveryID, 36)
	assert.Equal(t, 1.0, notificationCount(t, env.registry, "polling", "accepted"))
}

func TestServer_Notification_SinkRejects(t *testing.T) {
	sink := server.SinkFunc(func(context.Context, string, *kuaidi100.NotificationResult) kuaidi100.Ack {
		return kuaidi100.AckError(503, "storage unavailable")
	})
	env := newTestEnv(t, server.WithSink(sink))

	rec := env.notify(notificationBody(pollingParam, "V030344422"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":false,"returnCode":"503","message":"storage unavailable"}`, rec.Body.String())
	assert.Equal(t, 1.0, notificationCount(t, env.registry, "polling", "rejected"))
}

func TestServer_Notification_Forged(t *testing.T) {
	called := false
	sink := server.SinkFunc(func(context.Context, string, *kuaidi100.NotificationResult) kuaidi100.Ack {
		called = true
		return kuaidi100.AckSuccess()
	})
	env := newTestEnv(t, server.WithSink(sink))

	rec := env.notify(notificationBody(pollingParam, "wrong-salt"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var ack kuaidi100.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.False(t, ack.Result)
	assert.Equal(t, "403", ack.ReturnCode)
	assert.False(t, called)
	assert.Equal(t, 1.0, notificationCount(t, env.registry, "unknown", "forged"))
}

func TestServer_Notification_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.notify("param=%7B%7D")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, notificationCount(t, env.registry, "unknown", "invalid"))
}

func TestServer_Notification_Duplicate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	sink := server.SinkFunc(func(context.Context, string, *kuaidi100.NotificationResult) kuaidi100.Ack {
		calls++
		return kuaidi100.AckSuccess()
	})
	env := newTestEnv(t,
		server.WithSink(sink),
		server.WithGuard(replay.NewRedisGuard(client, time.Hour)),
	)
	body := notificationBody(pollingParam, "V030344422")

	first := env.notify(body)
	second := env.notify(body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"result":true,"returnCode":"200","message":"success"}`, second.Body.String())
	assert.Equal(t, 1, calls, "redelivery must not reach the sink")
	assert.Equal(t, 1.0, notificationCount(t, env.registry, "unknown", "duplicate"))
}

func TestServer_Notification_RejectedIsRedelivered(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	sink := server.SinkFunc(func(context.Context, string, *kuaidi100.NotificationResult) kuaidi100.Ack {
		calls++
		if calls == 1 {
			return kuaidi100.AckFailure()
		}
		return kuaidi100.AckSuccess()
	})
	env := newTestEnv(t,
		server.WithSink(sink),
		server.WithGuard(replay.NewRedisGuard(client, time.Hour)),
	)
	body := notificationBody(pollingParam, "V030344422")

	env.notify(body)
	rec := env.notify(body)

	assert.Equal(t, 2, calls)
	assert.JSONEq(t, `{"result":true,"returnCode":"200","message":"success"}`, rec.Body.String())
}

func TestServer_Notification_GuardDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	env := newTestEnv(t, server.WithGuard(replay.NewRedisGuard(client, time.Hour)))

	rec := env.notify(notificationBody(pollingParam, "V030344422"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"result":false,"returnCode":"500","message":"failed"}`, rec.Body.String())
}

func TestServer_Track(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/track", "application/json",
		`{"waybillNo":"V030344422","company":"yuantong","international":false,"salt":""}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	calls := env.transport.Calls()
	require.Len(t, calls, 1)
	var param map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[0].Form.Get("param")), &param))
	assert.Equal(t, "yuantong", param["company"])
	params := param["parameters"].(map[string]any)
	assert.Equal(t, "0", params["interCom"])
	assert.NotContains(t, params, "salt", "explicit empty salt is not sent")
	assert.Equal(t, "https://example.com/notifications", params["callbackurl"])
}

func TestServer_Track_Errors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/track", "application/json", "not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid waybill", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/track", "application/json", `{"waybillNo":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.transport.Calls())
	})

	t.Run("provider rejects", func(t *testing.T) {
		env := newTestEnv(t)
		env.transport.OnPostForm = func(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
			return http.StatusOK, []byte(`{"result":false,"returnCode":"701","message":"拒绝订阅的快递公司"}`), nil
		}

		rec := env.do(http.MethodPost, "/track", "application/json", `{"waybillNo":"V1"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.JSONEq(t, `{"error":{"message":"拒绝订阅的快递公司","code":"701"}}`, rec.Body.String())
	})

	t.Run("transport down", func(t *testing.T) {
		env := newTestEnv(t)
		env.transport.SimulateErrors = true

		rec := env.do(http.MethodPost, "/track", "application/json", `{"waybillNo":"V1"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "TRANSPORT")
	})
}

func TestServer_Query(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/query?com=yuantong&num=V030344422&from=%E6%B7%B1%E5%9C%B3", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var logistics kuaidi100.Logistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logistics))
	assert.Equal(t, kuaidi100.StateDelivered, logistics.State)
	assert.Equal(t, "V030344422", logistics.WaybillNo)
	assert.Len(t, logistics.Items, 2)

	calls := env.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "深圳", calls[0].Form.Get("from"))
	assert.False(t, calls[0].Form.Has("to"))
}

func TestServer_Query_ProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.transport.OnPostForm = func(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
		return http.StatusOK, []byte(`{"result":false,"returnCode":"500","message":"查询失败"}`), nil
	}

	rec := env.do(http.MethodGet, "/query?com=ems&num=E1", "", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"查询失败","code":"500"}}`, rec.Body.String())
}

func TestServer_BatchQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/query/batch", "application/json",
		`{"items":[{"com":"yuantong","num":"A1"},{"com":"ems","num":""},{"com":"shunfeng","num":"A3","to":"北京"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			WaybillNo string               `json:"waybillNo"`
			Logistics *kuaidi100.Logistics `json:"logistics"`
			Error     *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Results, 3)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "A1", resp.Results[0].WaybillNo)
	require.NotNil(t, resp.Results[0].Logistics)
	assert.Equal(t, "A1", resp.Results[0].Logistics.WaybillNo)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, "INVALID_WAYBILL", resp.Results[1].Error.Code)
	assert.NotNil(t, resp.Results[2].Logistics)
	assert.Len(t, env.transport.Calls(), 2)
}

func TestServer_BatchQuery_Bounds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/query/batch", "application/json", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	items := make([]string, 101)
	for i := range items {
		items[i] = `{"com":"ems","num":"E1"}`
	}
	rec = env.do(http.MethodPost, "/query/batch", "application/json", `{"items":[`+strings.Join(items, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.transport.Calls())
}

func TestServer_RequestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/query?com=ems&num=E1", "", "")
	env.do(http.MethodGet, "/query?com=ems&num=", "", "")

	count, err := testutil.GatherAndCount(env.registry, "kuaidi100_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status")
}

func TestLogSink(t *testing.T) {
	sink := server.LogSink{Logger: otelzap.New(zap.NewNop())}

	ack := sink.Consume(context.Background(), "id", &kuaidi100.NotificationResult{
		Tracking: kuaidi100.Tracking{Status: kuaidi100.TrackingAbort, Fake: true},
		Overseas: &kuaidi100.Logistics{Company: "usps"},
	})

	assert.Equal(t, kuaidi100.AckSuccess(), ack)
}
