package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit"
	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
)

// NoSuchEntity é uma falha "mapeada": o handler a traduz em 404.
var NoSuchEntity = errs.Class("no such entity")

type serverOptions struct {
	Log       *zap.Logger
	Registry  domain.PermitRegistry
	ConfigSvc application.LimitConfigService
	Throttle  domain.LimiterStore
	Stats     domain.StatsStore
	AdminKeys []string
}

// newHandler monta o servidor de exemplo:
//
//	/rest/configurations/...                               administração dos limites (só admin)
//	POST /rest/projects/p/{project}/iterations/i/{version}/r  cria documento (protegido, 201)
//	GET  /rest/test/data/sample/dummy?exception=...         dispara falhas mapeadas/não mapeadas (protegido)
func newHandler(opts serverOptions) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	keyFn := ratelimit.DefaultKeyFunc(ratelimit.DefaultKeyHeader)

	docs := &documents{byVersion: make(map[string][]document)}

	protected := mux.NewRouter()
	protected.Handle("/rest/projects/p/{project}/iterations/i/{version}/r", handle(docs.create)).Methods(http.MethodPost)
	protected.Handle("/rest/projects/p/{project}/iterations/i/{version}/r", handle(docs.list)).Methods(http.MethodGet)
	protected.Handle("/rest/test/data/sample/dummy", handle(dummy)).Methods(http.MethodGet)

	limited := ratelimit.Middleware(ratelimit.Options{
		Guard:    application.AdmissionGuard{Registry: opts.Registry},
		Stats:    opts.Stats,
		Throttle: opts.Throttle,
		Log:      opts.Log.Named("admission"),
		KeyFn:    keyFn,
	})(protected)

	admin := ratelimit.NewHeaderAdminAuthorizer(keyFn, opts.AdminKeys...)

	routes := mux.NewRouter()
	routes.PathPrefix(ratelimit.DefaultConfigPrefix + "/").Handler(
		ratelimit.NewConfigHandler(opts.Log.Named("config"), opts.ConfigSvc, admin, ratelimit.DefaultConfigPrefix))
	routes.PathPrefix("/").Handler(limited)

	return ratelimit.Recover(opts.Log)(routes)
}

// handle traduz erros conhecidos em status; o resto vira 500.
func handle(fn func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		switch {
		case err == nil:
		case NoSuchEntity.Has(err):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

// dummy existe para testar a liberação das vagas em caminhos de falha.
func dummy(w http.ResponseWriter, r *http.Request) error {
	switch r.URL.Query().Get("exception") {
	case "":
		w.WriteHeader(http.StatusOK)
		return nil
	case "mapped":
		return NoSuchEntity.New("dummy")
	case "error":
		return errs.New("dummy unmapped error")
	default:
		// falha não mapeada: nada entre aqui e o Recover sabe tratar
		panic(errs.New("dummy unmapped failure %q", r.URL.Query().Get("exception")))
	}
}

type document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type documents struct {
	mu        sync.Mutex
	byVersion map[string][]document
}

func (d *documents) create(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil || doc.Name == "" {
		http.Error(w, "invalid document", http.StatusBadRequest)
		return nil
	}

	id := vars["project"] + "/" + vars["version"]
	d.mu.Lock()
	d.byVersion[id] = append(d.byVersion[id], doc)
	d.mu.Unlock()

	w.Header().Set("Location", r.URL.Path+"/"+doc.Name)
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (d *documents) list(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	id := vars["project"] + "/" + vars["version"]

	d.mu.Lock()
	docs, ok := d.byVersion[id]
	out := append([]document(nil), docs...)
	d.mu.Unlock()

	if !ok {
		return NoSuchEntity.New("%s", id)
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(out)
}
