// Package ratelimit fornece adapters HTTP (net/http) para o controle de admissão por API key.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão com liberação garantida, configuração dos limites)
//   - infra: implementações concretas (semáforo, registry, Redis, Badger, token bucket)
//   - ratelimit (este pacote): middlewares HTTP + extração da API key + tradução para status/headers,
//     e a superfície administrativa dos limites (ConfigHandler)
//
// Fluxo no gateway:
//
//   1) Extrai a API key da requisição (header)
//   2) Reserva uma vaga Concurrent e uma Active para a chave (sem esperar)
//   3) Se não houver vaga, responde 429 e não chama o próximo handler
//   4) Se houver, chama o próximo handler e libera as vagas em qualquer saída (inclusive panic)
//
// Os limites são administrados em <prefixo>/c/max.concurrent.req.per.apikey e
// <prefixo>/c/max.active.req.per.apikey, e valem sem restart.
package ratelimit
