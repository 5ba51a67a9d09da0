package main

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Upstream "burro" para validar o gateway na mão: /showTela responde na hora,
// /lento?ms=N segura a requisição N ms (útil para estourar o limite Active).
func main() {
	log, _ := zap.NewDevelopment()

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"))
		log.Info("showTela", zap.String("remote", r.RemoteAddr))
	})
	http.HandleFunc("/lento", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(http.StatusOK)
		log.Info("lento", zap.Int("ms", ms))
	})

	log.Info("servidor rodando em http://localhost:8081")
	if err := http.ListenAndServe(":8081", nil); err != nil {
		log.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}
