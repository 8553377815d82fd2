/*
Package ticket talks to the external ticket system (Linear).

The engine consumes a deliberately narrow surface, the Ticketer
interface: create an issue, list its comments, add a comment.
LinearClient implements it over the GraphQL API with retry on 429.

WebhookHandler is the inbound half: it verifies the HMAC-SHA256
signature of each delivery (when a shared secret is configured) and
dispatches to handlers registered per (action, resource type). The
blocker registry listens for created comments to resolve wait-points
out-of-band.

When no API key is configured the rest of the engine runs without
tickets: blockers are still created and can be resolved through the
registry directly.
*/
package ticket
