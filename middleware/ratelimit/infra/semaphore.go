package infra

import "sync/atomic"

// Semaphore é um semáforo de contagem que nunca bloqueia e cujo teto pode mudar em runtime.
//
// capacity e outstanding são atômicos: o caminho quente (TryAcquire/Release) não usa lock.
// Reduzir o teto não revoga permits já concedidos; outstanding pode ficar acima de capacity
// até que os holders atuais liberem.
type Semaphore struct {
	capacity    atomic.Int64
	outstanding atomic.Int64
}

// NewSemaphore cria um semáforo com o teto informado (valores negativos viram 0).
func NewSemaphore(capacity int) *Semaphore {
	s := &Semaphore{}
	s.Resize(capacity)
	return s
}

// TryAcquire tenta reservar um permit. Retorna false imediatamente se não houver vaga.
func (s *Semaphore) TryAcquire() bool {
	for {
		cur := s.outstanding.Load()
		if cur >= s.capacity.Load() {
			return false
		}
		if s.outstanding.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release devolve um permit. Liberar sem ter adquirido é bug de quem chama.
func (s *Semaphore) Release() {
	if s.outstanding.Add(-1) < 0 {
		s.outstanding.Add(1)
		panic("ratelimit: semaphore released more than held")
	}
}

// Resize troca o teto. Não espera nem afeta quem já tem permit.
func (s *Semaphore) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	s.capacity.Store(int64(capacity))
}

func (s *Semaphore) Capacity() int    { return int(s.capacity.Load()) }
func (s *Semaphore) Outstanding() int { return int(s.outstanding.Load()) }

// Available retorna quantos permits ainda podem ser adquiridos agora.
func (s *Semaphore) Available() int {
	free := s.capacity.Load() - s.outstanding.Load()
	if free < 0 {
		return 0
	}
	return int(free)
}
