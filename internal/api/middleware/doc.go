// Package middleware provides HTTP middleware for the task service.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, exposing the trace headers
//   - RateLimit: Per-IP token bucket rate limiting with idle-client eviction
//   - RequestLogger: One zap line per request, level by status class
//
// Rate Limiting:
//   - Per-IP tracking; Limiter.Run evicts clients idle past IdleTTL
//   - Token bucket algorithm (golang.org/x/time/rate)
//   - Rejections are 429 with category rate_limited
//   - Global rate limiting option
//
// Example Usage:
//
//	limiter := middleware.NewLimiter(middleware.DefaultRateLimitConfig())
//	go limiter.Run(ctx)
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(limiter.Handler())
//	router.Use(middleware.RequestLogger(logger))
package middleware
