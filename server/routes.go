package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// The credential is checked before the upgrade; failures never reach the relay.
	s.RegisterRouteHandler("GET "+RouteWebSocket, ChainMiddleware(s.WebSocketHandler(), s.SocketMiddleware()...))

	s.RegisterRouteHandler("OPTIONS "+RouteAPIPreflight, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Presence
	s.RegisterRouteHandler("GET "+RouteOnlineUsers, ChainMiddleware(s.OnlineUsersHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Call records
	s.RegisterRouteHandler("GET "+RouteCallHistory, ChainMiddleware(s.CallHistoryHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteCallRecent, ChainMiddleware(s.RecentCallsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteCallInitiate, ChainMiddleware(s.InitiateCallHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("PUT "+RouteCallStatus, ChainMiddleware(s.CallStatusHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("DELETE "+RouteCall, ChainMiddleware(s.DeleteCallHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Groups
	s.RegisterRouteHandler("GET "+RouteGroups, ChainMiddleware(s.ListGroupsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteGroups, ChainMiddleware(s.CreateGroupHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("PUT "+RouteGroupAdd, ChainMiddleware(s.AddGroupMembersHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("DELETE "+RouteGroupMember, ChainMiddleware(s.RemoveGroupMemberHandler(), s.APIMiddleware(s.RequireAuth())...))
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// PreflightHandler answers CORS preflight requests; the headers are set by
// CorsMiddleware.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
