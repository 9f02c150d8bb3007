package kuaidi100

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errNullBody = errors.New("body is null")

// rawLogistics is the provider's logistics block, shared by the query
// response and the lastResult/destResult blocks of a notification.
type rawLogistics struct {
	State   json.RawMessage `json:"state"`
	IsCheck flexString      `json:"ischeck"`
	Nu      string          `json:"nu"`
	Com     string          `json:"com"`
	Data    []rawTrackEvent `json:"data"`
}

type rawTrackEvent struct {
	FTime    string `json:"ftime"`
	Status   string `json:"status"`
	Context  string `json:"context"`
	AreaName string `json:"areaName"`
}

// providerReply is the envelope of subscribe acknowledgments and failed queries.
type providerReply struct {
	Result     *bool      `json:"result"`
	ReturnCode flexString `json:"returnCode"`
	Message    string     `json:"message"`
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ParseTrackingLogistics maps a provider logistics block onto Logistics.
// Items is nil when the block has no data.
func ParseTrackingLogistics(raw []byte) (Logistics, error) {
	if isNull(raw) {
		return Logistics{}, protocolError(raw, errNullBody)
	}
	var rl rawLogistics
	if err := json.Unmarshal(raw, &rl); err != nil {
		return Logistics{}, protocolError(raw, err)
	}
	return rl.toLogistics(), nil
}

func (rl *rawLogistics) toLogistics() Logistics {
	l := Logistics{
		State:     parseState(rl.State),
		Signed:    strings.TrimSpace(string(rl.IsCheck)) == "1",
		WaybillNo: rl.Nu,
		Company:   rl.Com,
	}
	if len(rl.Data) > 0 {
		l.Items = make([]TrackEvent, len(rl.Data))
		for i, d := range rl.Data {
			l.Items[i] = TrackEvent{
				Time:     d.FTime,
				State:    d.Status,
				Desc:     d.Context,
				AreaName: d.AreaName,
			}
		}
	}
	return l
}

// ParseSubscribeAck interprets the provider's answer to a subscription.
// It returns nil only for result true with returnCode "200".
func ParseSubscribeAck(body []byte) error {
	if isNull(body) {
		return protocolError(body, errNullBody)
	}
	var reply providerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return protocolError(body, err)
	}
	if reply.Result != nil && *reply.Result && reply.ReturnCode == "200" {
		return nil
	}
	return NewProviderError(string(reply.ReturnCode), reply.Message)
}

// ParseQueryResponse interprets the provider's answer to a synchronous query.
func ParseQueryResponse(body []byte) (Logistics, error) {
	if isNull(body) {
		return Logistics{}, protocolError(body, errNullBody)
	}
	var reply providerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Logistics{}, protocolError(body, err)
	}
	if reply.Result != nil && !*reply.Result {
		return Logistics{}, NewProviderError(string(reply.ReturnCode), reply.Message)
	}
	return ParseTrackingLogistics(body)
}
