// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Semaphore: semáforo de contagem redimensionável, sem bloqueio
//   - Registry: PermitPool por API key, criado sob demanda
//   - ConfigSource: memória, Redis (com notificação de mudanças) e Badger
//   - StatsStore: memória e Redis
//   - LogThrottle: token bucket por chave usando golang.org/x/time/rate
package infra
