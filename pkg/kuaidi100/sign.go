package kuaidi100

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode/utf16"
)

// Sign returns the lowercase hex MD5 of payload followed by every secret.
func Sign(payload string, secrets ...string) string {
	h := md5.New()
	h.Write([]byte(payload))
	for _, s := range secrets {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyNotification reports whether provided equals MD5(param + salt).
// param must be the exact text received from the provider.
func VerifyNotification(param, salt, provided string) bool {
	expected := Sign(param, salt)
	got := strings.ToLower(strings.TrimSpace(provided))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// QuerySign computes the signature of a synchronous query:
// MD5(canonicalJSON({com,num,from,to}) + key + customer).
func QuerySign(req QueryRequest, key, customer string) string {
	return Sign(canonicalQueryJSON(req), key, customer)
}

// canonicalQueryJSON serializes the query fields in the fixed order the
// provider signs them. Absent from/to are null.
func canonicalQueryJSON(req QueryRequest) string {
	var b strings.Builder
	b.WriteString(`{"com":`)
	writeJSONString(&b, req.Company)
	b.WriteString(`,"num":`)
	writeJSONString(&b, req.WaybillNo)
	b.WriteString(`,"from":`)
	writeOptionalString(&b, req.From)
	b.WriteString(`,"to":`)
	writeOptionalString(&b, req.To)
	b.WriteByte('}')
	return b.String()
}

func writeOptionalString(b *strings.Builder, o Optional[string]) {
	v, ok := o.Get()
	if !ok {
		b.WriteString("null")
		return
	}
	writeJSONString(b, v)
}

const hexDigits = "0123456789abcdef"

// writeJSONString escapes s like the provider's reference encoder: slashes
// are escaped and everything outside ASCII becomes \uXXXX (UTF-16 units).
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '/':
			b.WriteString(`\/`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				writeUnicodeEscape(b, uint16(r))
			case r < 0x80:
				b.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				writeUnicodeEscape(b, uint16(hi))
				writeUnicodeEscape(b, uint16(lo))
			default:
				writeUnicodeEscape(b, uint16(r))
			}
		}
	}
	b.WriteByte('"')
}

func writeUnicodeEscape(b *strings.Builder, u uint16) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[u>>12&0xF])
	b.WriteByte(hexDigits[u>>8&0xF])
	b.WriteByte(hexDigits[u>>4&0xF])
	b.WriteByte(hexDigits[u&0xF])
}
