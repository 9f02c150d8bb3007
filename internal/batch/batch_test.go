package batch_test

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/kuaidi100/internal/batch"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

func newService(transport kuaidi100.Transport) *kuaidi100.Service {
	return kuaidi100.NewWithTransport(kuaidi100.Config{Key: "KEY", Customer: "CUSTOMER"}, transport)
}

func TestRunner_Query_Order(t *testing.T) {
	transport := kuaidi100.NewMockTransport()
	runner := batch.NewRunner(newService(transport), 3)

	reqs := []kuaidi100.QueryRequest{
		{Company: "yuantong", WaybillNo: "A1"},
		{Company: "yuantong", WaybillNo: "A2"},
		{Company: "shunfeng", WaybillNo: "A3"},
		{Company: "ems", WaybillNo: "A4"},
	}

	results := runner.Query(context.Background(), reqs)

	require.Len(t, results, len(reqs))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, reqs[i], r.Request)
		assert.Equal(t, reqs[i].WaybillNo, r.Logistics.WaybillNo)
		assert.Equal(t, reqs[i].Company, r.Logistics.Company)
	}
	assert.Len(t, transport.Calls(), len(reqs), "one request per waybill")
	assert.Zero(t, batch.Failed(results))
}

func TestRunner_Query_PartialFailure(t *testing.T) {
	transport := kuaidi100.NewMockTransport()
	transport.OnPostForm = func(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
		if form.Get("num") == "BAD" {
			return http.StatusOK, []byte(`{"result":false,"returnCode":"500","message":"查询失败"}`), nil
		}
		return http.StatusOK, []byte(`{"nu":"` + form.Get("num") + `","state":"0","data":[]}`), nil
	}
	runner := batch.NewRunner(newService(transport), 2)

	results := runner.Query(context.Background(), []kuaidi100.QueryRequest{
		{Company: "ems", WaybillNo: "OK1"},
		{Company: "ems", WaybillNo: "BAD"},
		{Company: "ems", WaybillNo: ""},
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, kuaidi100.NewProviderError("500", ""))
	assert.ErrorIs(t, results[2].Err, kuaidi100.ErrInvalidWaybill)
	assert.Equal(t, 2, batch.Failed(results))
	assert.Len(t, transport.Calls(), 2, "invalid waybill never reaches the transport")
}

func TestRunner_Query_Limit(t *testing.T) {
	var inFlight, peak atomic.Int32
	transport := kuaidi100.NewMockTransport()
	transport.OnPostForm = func(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return http.StatusOK, []byte(`{"nu":"` + form.Get("num") + `","state":"0"}`), nil
	}
	runner := batch.NewRunner(newService(transport), 2)

	reqs := make([]kuaidi100.QueryRequest, 8)
	for i := range reqs {
		reqs[i] = kuaidi100.QueryRequest{Company: "ems", WaybillNo: string(rune('A' + i))}
	}

	results := runner.Query(context.Background(), reqs)

	assert.Zero(t, batch.Failed(results))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunner_Query_Empty(t *testing.T) {
	runner := batch.NewRunner(newService(kuaidi100.NewMockTransport()), 0)
	assert.Empty(t, runner.Query(context.Background(), nil))
}
