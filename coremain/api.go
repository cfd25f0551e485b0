package coremain

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/record"
)

// registerAPI mounts the publish/resolve endpoints on the api mux.
func (m *Spagh) registerAPI() {
	m.httpAPIMux.HandleFunc("POST /publish/v1/{identity}", m.handlePublish)
	m.httpAPIMux.HandleFunc("GET /resolve/v1/{identity}", m.handleResolve)
}

type publishResp struct {
	Version uint64 `json:"version"`
}

func (m *Spagh) handlePublish(w http.ResponseWriter, req *http.Request) {
	ident := record.Identity(req.PathValue("identity"))

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, record.MaxPayloadSize*2))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	pr := new(record.PublishRequest)
	if err := json.Unmarshal(body, pr); err != nil {
		http.Error(w, "invalid publish document: "+err.Error(), http.StatusBadRequest)
		return
	}
	pr.Identity = ident

	version, err := m.store.Publish(req.Context(), pr)
	if err != nil {
		var ve *record.ValidationError
		var pe *record.PayloadError
		if errors.As(err, &ve) || errors.As(err, &pe) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.logger.Error("publish failed", zap.String("identity", ident.String()), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, publishResp{Version: uint64(version)})
}

type resolveAnswer struct {
	// Expires is when the answer falls out of cache. Clients must not
	// reuse it past this instant.
	Expires time.Time `json:"expires"`

	// Data is the published value, null for a negative answer.
	Data json.RawMessage `json:"data"`
}

func (m *Spagh) handleResolve(w http.ResponseWriter, req *http.Request) {
	ident := record.Identity(req.PathValue("identity"))

	keys, err := parseResolveKeys(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := make(map[string]resolveAnswer, len(keys))
	for _, key := range keys {
		o, err := m.resolver.Resolve(req.Context(), ident, key)
		if err != nil {
			m.logger.Warn("resolve failed",
				zap.String("identity", ident.String()), zap.String("key", key), zap.Error(err))
			http.Error(w, "resolution failed", http.StatusBadGateway)
			return
		}
		a := resolveAnswer{Expires: o.ExpiresAt}
		if o.Found {
			a.Data = o.Data
		}
		out[key] = a
	}

	writeJSON(w, out)
}

// parseResolveKeys reads the requested keys from the q parameter, a
// comma separated list of url-encoded keys.
func parseResolveKeys(req *http.Request) ([]string, error) {
	q := req.URL.Query().Get("q")
	if len(q) == 0 {
		return nil, errors.New("missing q parameter")
	}

	parts := strings.Split(q, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		key, err := url.QueryUnescape(p)
		if err != nil {
			return nil, errors.New("malformed key " + p)
		}
		if len(key) == 0 {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("no keys requested")
	}
	return keys, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}
