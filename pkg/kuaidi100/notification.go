package kuaidi100

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// fakeWaybillToken appears in the abort message the provider sends when the
// carrier has had no record of the waybill for three days. It matches the
// provider's message wording, so a wording change upstream disables the
// fake-waybill flag.
const fakeWaybillToken = "3天"

type rawNotification struct {
	Status     TrackingStatus  `json:"status"`
	Message    string          `json:"message"`
	AutoCheck  flexString      `json:"autoCheck"`
	ComNew     string          `json:"comNew"`
	LastResult json.RawMessage `json:"lastResult"`
	DestResult json.RawMessage `json:"destResult"`
}

// ParseNotification verifies and decodes a push notification body of the
// form "sign=<hex>&param=<json>". An empty salt falls back to the waybill
// number carried in the notification. With a known salt the signature is
// checked before anything in param is decoded.
//
// Malformed input yields ErrInvalidNotification; a signature mismatch yields
// ErrForgedNotification. No partial result is returned with an error.
func ParseNotification(body, salt string) (*NotificationResult, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, invalidNotification("body is not form encoded")
	}
	if !form.Has("sign") || !form.Has("param") {
		return nil, invalidNotification("sign and param are required")
	}
	sign, param := form.Get("sign"), form.Get("param")

	if salt == "" {
		nu, err := notificationWaybill(param)
		if err != nil {
			return nil, err
		}
		salt = nu
	}
	if !VerifyNotification(param, salt, sign) {
		return nil, ErrForgedNotification
	}

	var raw rawNotification
	if err := json.Unmarshal([]byte(param), &raw); err != nil {
		return nil, invalidNotification("param is not valid JSON")
	}
	if !raw.Status.Valid() {
		return nil, invalidNotification("unknown tracking status " + string(raw.Status))
	}
	if isNull(raw.LastResult) {
		return nil, invalidNotification("lastResult is missing")
	}

	var dataBlock struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw.LastResult, &dataBlock); err != nil || isNull(dataBlock.Data) {
		return nil, invalidNotification("lastResult.data is missing")
	}

	var last rawLogistics
	if err := json.Unmarshal(raw.LastResult, &last); err != nil {
		return nil, invalidNotification("lastResult is malformed")
	}

	result := &NotificationResult{
		Tracking: Tracking{
			Status:           raw.Status,
			Message:          raw.Message,
			Fake:             isFakeWaybill(&raw),
			SuggestedCompany: raw.ComNew,
			AutoCheck:        string(raw.AutoCheck) == "1",
		},
		Domestic: last.toLogistics(),
	}

	if !isNull(raw.DestResult) {
		var dest rawLogistics
		if err := json.Unmarshal(raw.DestResult, &dest); err != nil {
			return nil, invalidNotification("destResult is malformed")
		}
		overseas := dest.toLogistics()
		result.Overseas = &overseas
	}

	return result, nil
}

// notificationWaybill extracts lastResult.nu, the default salt, without
// validating the rest of the document.
func notificationWaybill(param string) (string, error) {
	var envelope struct {
		LastResult *struct {
			Nu string `json:"nu"`
		} `json:"lastResult"`
	}
	if err := json.Unmarshal([]byte(param), &envelope); err != nil {
		return "", invalidNotification("param is not valid JSON")
	}
	if envelope.LastResult == nil {
		return "", invalidNotification("lastResult is missing")
	}
	if envelope.LastResult.Nu == "" {
		return "", invalidNotification("lastResult.nu is missing")
	}
	return envelope.LastResult.Nu, nil
}

// isFakeWaybill reports whether the provider gave up on the waybill because
// the carrier does not know it, without suggesting another carrier.
func isFakeWaybill(n *rawNotification) bool {
	return n.Status == TrackingAbort &&
		strings.Contains(n.Message, fakeWaybillToken) &&
		n.ComNew == ""
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
