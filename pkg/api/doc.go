/*
Package api exposes the control plane over HTTP.

Endpoints:

	GET  /health                         liveness
	GET  /v1/status                      project and per-service snapshot
	POST /v1/pause                       pause all services
	POST /v1/resume                      resume all services
	POST /v1/services/{name}/pause       pause one service
	POST /v1/services/{name}/resume      resume one service
	GET  /v1/blockers                    list pending blockers
	POST /v1/blockers/{id}/resolve       answer a blocker directly
	POST /webhooks/linear                ticket-system webhook deliveries
	GET  /metrics                        Prometheus metrics

Pause takes effect between tasks; a running stage is never interrupted.
*/
package api
