// Package session provides the session registry for browser tasks.
//
// A session is created by the task creation call and claimed by exactly one
// execution channel. The registry is an injected instance, not a global:
// tests build as many as they like.
//
// Components:
//   - Registry: Concurrent id -> record map with per-record locking
//   - Binding: Exclusive handle returned by Bind; the only way to move a
//     session forward (Start, Complete, Fail) or detach it (Release)
//   - Sweeper: Registry.Run removes stale sessions on a timer
//
// Lifecycle:
//
//	Created -> Connected -> Running -> Completed | Failed
//	any non-terminal state -> Expired (channel lost, or never attached)
//
// Bind Errors:
//   - not_found: unknown or already removed identifier
//   - already_bound: another channel holds the session
//   - session_terminal: the session already finished or expired
//
// Example Usage:
//
//	reg := session.NewRegistry(cfg.Session.GracePeriod, logger).WithMetrics(metrics)
//	go reg.Run(ctx, cfg.Session.SweepInterval)
//
//	id, err := reg.Create("find flights", "gpt-4o")
//	b, err := reg.Bind(ctx, id)
//	defer b.Release()
package session
