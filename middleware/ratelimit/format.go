package ratelimit

import "strconv"

// formatInt é usado para headers (Retry-After, X-RateLimit-*) e valores de configuração.
func formatInt(v int) string { return strconv.Itoa(v) }
