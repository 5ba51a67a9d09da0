// Package application contém os casos de uso (regras de aplicação) do controle de admissão
// por API key e da sua configuração.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: AdmissionGuard.Do(ctx, key, fn) reserva as vagas, executa fn e sempre libera.
package application
