// Package simulated provides an in-process executor that emits a fixed,
// deterministic run. It backs development setups and end-to-end tests and
// honours cooperative cancellation.
package simulated
