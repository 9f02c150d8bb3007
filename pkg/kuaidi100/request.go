package kuaidi100

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// subscribeParam is the JSON document sent as the "param" form field of a
// subscription. Field order is the wire order.
type subscribeParam struct {
	Company    string              `json:"company,omitempty"`
	Number     string              `json:"number"`
	From       string              `json:"from,omitempty"`
	To         string              `json:"to,omitempty"`
	Key        string              `json:"key,omitempty"`
	Parameters subscribeParameters `json:"parameters"`
}

type subscribeParameters struct {
	CallbackURL string `json:"callbackurl,omitempty"`
	Salt        string `json:"salt,omitempty"`
	ResultV2    string `json:"resultv2"` // enables administrative area resolution
	AutoCom     string `json:"autoCom"`
	InterCom    string `json:"interCom"`
}

// BuildSubscribeRequest assembles the form of a tracking subscription.
// When opts.Salt is not set the waybill number is used as salt; an explicitly
// empty salt sends none.
func BuildSubscribeRequest(key, waybillNo, notificationURL string, opts TrackingOptions) (url.Values, error) {
	company := opts.Company.OrElse("")

	param := subscribeParam{
		Company: company,
		Number:  waybillNo,
		From:    opts.From.OrElse(""),
		To:      opts.To.OrElse(""),
		Key:     key,
		Parameters: subscribeParameters{
			CallbackURL: notificationURL,
			Salt:        opts.Salt.OrElse(waybillNo),
			ResultV2:    "1",
			AutoCom:     flag(company == ""),
			InterCom:    flag(opts.International.OrElse(true)),
		},
	}

	encoded, err := marshalCompact(param)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subscription: %w", err)
	}

	form := url.Values{}
	form.Set("schema", "json")
	form.Set("param", encoded)
	return form, nil
}

// BuildQueryRequest assembles the form of a synchronous query. Absent from/to
// are left out of the form but still signed as null.
func BuildQueryRequest(customer, key string, req QueryRequest) url.Values {
	form := url.Values{}
	form.Set("com", req.Company)
	form.Set("num", req.WaybillNo)
	if from, ok := req.From.Get(); ok {
		form.Set("from", from)
	}
	if to, ok := req.To.Get(); ok {
		form.Set("to", to)
	}
	form.Set("sign", QuerySign(req, key, customer))
	form.Set("customer", customer)
	return form
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// marshalCompact encodes v without HTML escaping so callback URLs keep their
// query strings readable.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
