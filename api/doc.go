// Package api wires the session engine (C7) to the HTTP boundary adapter
// (C8/C13): request/response DTOs matching spec.md §6's wire contract and
// the router that dispatches each route to one FSM operation.
package api
