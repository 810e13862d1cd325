package loader

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const (
	// MIMEJavaScript is the default media type for module sources.
	MIMEJavaScript = "text/javascript"
	// MIMEJSON marks a source whose default export is the parsed document.
	MIMEJSON = "application/json"
	// CharsetUTF8 is the only charset the loader evaluates.
	CharsetUTF8 = "utf-8"
)

// DataURIOption configures DataURI.
type DataURIOption func(*dataURIConfig)

type dataURIConfig struct {
	mime    string
	charset string
}

// DataURIMIME overrides the media type.
func DataURIMIME(mime string) DataURIOption {
	return func(cfg *dataURIConfig) {
		if mime != "" {
			cfg.mime = mime
		}
	}
}

// DataURICharset overrides the charset parameter.
func DataURICharset(charset string) DataURIOption {
	return func(cfg *dataURIConfig) {
		if charset != "" {
			cfg.charset = charset
		}
	}
}

// DataURI encodes content as a base64 data: URI.
func DataURI(content string, opts ...DataURIOption) string {
	cfg := dataURIConfig{mime: MIMEJavaScript, charset: CharsetUTF8}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return fmt.Sprintf("data:%s;charset=%s;base64,%s", cfg.mime, cfg.charset, base64.StdEncoding.EncodeToString([]byte(content)))
}

// DataURIPayload is the decoded content of a data: URI.
type DataURIPayload struct {
	MIME    string
	Charset string
	Body    []byte
}

// ParseDataURI decodes a data: URI.
func ParseDataURI(raw string) (DataURIPayload, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return DataURIPayload{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURIPayload{}, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}

	payload := DataURIPayload{MIME: MIMEJavaScript, Charset: CharsetUTF8}
	encoded := false
	for i, param := range strings.Split(meta, ";") {
		param = strings.TrimSpace(param)
		switch {
		case i == 0 && param != "":
			payload.MIME = strings.ToLower(param)
		case param == "base64":
			encoded = true
		case strings.HasPrefix(strings.ToLower(param), "charset="):
			payload.Charset = strings.ToLower(param[len("charset="):])
		}
	}

	if encoded {
		body, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return DataURIPayload{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		payload.Body = body
		return payload, nil
	}
	body, err := url.PathUnescape(data)
	if err != nil {
		return DataURIPayload{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	payload.Body = []byte(body)
	return payload, nil
}
