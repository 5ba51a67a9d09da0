package ratelimit

import (
	"encoding/json"
	"errors"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
)

// DefaultConfigPrefix é onde a superfície administrativa é montada quando nada é informado.
const DefaultConfigPrefix = "/rest/configurations"

// maxValueSize limita o corpo do PUT; o valor é um inteiro pequeno.
const maxValueSize = 1 << 10

// ConfigHandler expõe as chaves do limitador por HTTP:
//
//	GET <prefixo>/          todas as chaves
//	GET <prefixo>/c/{key}   uma chave (404 se desconhecida)
//	PUT <prefixo>/c/{key}   corpo com um inteiro (400 se chave ou valor inválidos)
//
// Toda rota exige administrador (403 antes de qualquer outra checagem).
type ConfigHandler struct {
	svc    application.LimitConfigService
	auth   AdminAuthorizer
	log    *zap.Logger
	router *mux.Router
}

func NewConfigHandler(log *zap.Logger, svc application.LimitConfigService, auth AdminAuthorizer, prefix string) *ConfigHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultConfigPrefix
	}
	h := &ConfigHandler{
		svc:    svc,
		auth:   auth,
		log:    log,
		router: mux.NewRouter(),
	}

	sub := h.router.PathPrefix(strings.TrimSuffix(prefix, "/")).Subrouter()
	sub.Use(h.requireAdmin)
	sub.HandleFunc("/", h.getAll).Methods(http.MethodGet)
	sub.HandleFunc("/c/{key}", h.get).Methods(http.MethodGet)
	sub.HandleFunc("/c/{key}", h.put).Methods(http.MethodPut)
	return h
}

// ServeHTTP faz de ConfigHandler um http.Handler.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *ConfigHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil || !h.auth.IsAdmin(r) {
			h.writeError(w, r, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type configuration struct {
	XMLName xml.Name `xml:"configuration" json:"-"`
	Key     string   `xml:"key" json:"key"`
	Value   string   `xml:"value" json:"value"`
}

type configurations struct {
	XMLName xml.Name        `xml:"configurations" json:"-"`
	Items   []configuration `xml:"configuration" json:"configurations"`
}

func (h *ConfigHandler) getAll(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err.Error(), http.StatusInternalServerError)
		return
	}

	var out configurations
	for _, s := range settings {
		out.Items = append(out.Items, configuration{Key: s.Name, Value: formatInt(s.Value)})
	}
	h.write(w, r, http.StatusOK, out)
}

func (h *ConfigHandler) get(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	v, err := h.svc.Get(r.Context(), key)
	switch {
	case domain.UnknownConfigKey.Has(err):
		h.writeError(w, r, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.writeError(w, r, err.Error(), http.StatusInternalServerError)
		return
	}
	h.write(w, r, http.StatusOK, configuration{Key: key, Value: formatInt(v)})
}

func (h *ConfigHandler) put(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeError(w, r, err.Error(), status)
		return
	}

	err = h.svc.Put(r.Context(), key, unquote(string(body)))
	switch {
	case domain.UnknownConfigKey.Has(err), domain.InvalidValue.Has(err):
		h.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.writeError(w, r, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// unquote aceita tanto `2` quanto `"2"` (corpo enviado como string JSON).
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "json")
}

func (h *ConfigHandler) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

func (h *ConfigHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	h.log.Info("config request rejected",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("msg", msg),
		zap.Int("status", status))
	http.Error(w, msg, status)
}
