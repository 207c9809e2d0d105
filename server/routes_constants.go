package server

// Route path constants
const (
	// Real-time transport
	RouteWebSocket = "/ws"

	// Operational routes, no credential required
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Presence
	RouteOnlineUsers = "/api/online"

	// Call records
	RouteCallHistory  = "/api/calls/history"
	RouteCallRecent   = "/api/calls/recent"
	RouteCallInitiate = "/api/calls/initiate"
	RouteCallStatus   = "/api/calls/{callId}/status"
	RouteCall         = "/api/calls/{callId}"

	// Groups
	RouteGroups       = "/api/groups"
	RouteGroupAdd     = "/api/groups/{groupId}/add"
	RouteGroupMember  = "/api/groups/{groupId}/{userId}"
	RouteAPIPreflight = "/api/"
)
