package retailer

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const maxLoggedBody = 4 << 10

// LoggingTransport is an http.RoundTripper that logs retailer request and response bodies at debug level.
type LoggingTransport struct {
	Base    http.RoundTripper
	Enabled bool
}

func (t *LoggingTransport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Enabled || !logx.Enabled(zerolog.DebugLevel) {
		return t.base().RoundTrip(req)
	}

	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	logx.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("body", truncate(redactToken(reqBody))).
		Msg("[Retailer] Outbound request")

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return resp, err
	}

	respBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	logx.Debug().
		Int("status", resp.StatusCode).
		Str("url", req.URL.String()).
		Str("body", truncate(respBody)).
		Msg("[Retailer] Outbound response")

	return resp, nil
}

// redactToken hides the payment token of a purchase body.
func redactToken(body []byte) []byte {
	const key = `"payment_token":"`
	i := bytes.Index(body, []byte(key))
	if i < 0 {
		return body
	}
	start := i + len(key)
	end := bytes.IndexByte(body[start:], '"')
	if end < 0 {
		return body
	}
	out := make([]byte, 0, len(body))
	out = append(out, body[:start]...)
	out = append(out, "***"...)
	return append(out, body[start+end:]...)
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...(truncated)"
	}
	return string(body)
}
