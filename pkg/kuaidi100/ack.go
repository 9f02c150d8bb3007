package kuaidi100

import (
	"encoding/json"
	"strconv"
)

const (
	ackSuccessCode    = "200"
	ackSuccessMessage = "success"
	ackFailureCode    = "500"
	ackFailureMessage = "failed"
)

// Ack is the acknowledgment written back to the provider after a push
// notification. The provider retries deliveries that are not acknowledged
// with result true and returnCode "200".
type Ack struct {
	Result     bool   `json:"result"`
	ReturnCode string `json:"returnCode"`
	Message    string `json:"message"`
}

// AckSuccess acknowledges a notification as handled.
func AckSuccess() Ack {
	return Ack{Result: true, ReturnCode: ackSuccessCode, Message: ackSuccessMessage}
}

// AckFailure rejects a notification with the default code and message.
func AckFailure() Ack {
	return Ack{Result: false, ReturnCode: ackFailureCode, Message: ackFailureMessage}
}

// AckCode rejects a notification with a custom code.
func AckCode(code int) Ack {
	a := AckFailure()
	a.ReturnCode = strconv.Itoa(code)
	return a
}

// AckMessage rejects a notification with a custom message.
func AckMessage(message string) Ack {
	a := AckFailure()
	a.Message = message
	return a
}

// AckError rejects a notification with a custom code and message.
func AckError(code int, message string) Ack {
	return Ack{Result: false, ReturnCode: strconv.Itoa(code), Message: message}
}

// AckFrom converts a loosely typed handler outcome: true, an integer code of
// any kind, a string message, a {code, message} pair given as [2]any or a
// two-element []any, or anything else (failure).
func AckFrom(v any) Ack {
	if code, ok := ackCode(v); ok {
		a := AckFailure()
		a.ReturnCode = code
		return a
	}
	switch t := v.(type) {
	case bool:
		if t {
			return AckSuccess()
		}
	case string:
		return AckMessage(t)
	case [2]any:
		return ackPair(t[0], t[1])
	case []any:
		if len(t) == 2 {
			return ackPair(t[0], t[1])
		}
	}
	return AckFailure()
}

func ackPair(code, message any) Ack {
	a := AckFailure()
	if c, ok := ackCode(code); ok {
		a.ReturnCode = c
	} else if c, ok := code.(string); ok {
		a.ReturnCode = c
	}
	if msg, ok := message.(string); ok {
		a.Message = msg
	}
	return a
}

// ackCode formats integer kinds as a return code.
func ackCode(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint8:
		return strconv.FormatUint(uint64(n), 10), true
	case uint16:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	}
	return "", false
}

// Bytes returns the JSON body sent back to the provider.
func (a Ack) Bytes() []byte {
	// Marshalling a struct of bool and strings cannot fail.
	b, _ := json.Marshal(a)
	return b
}

// String returns the JSON body as a string.
func (a Ack) String() string {
	return string(a.Bytes())
}
