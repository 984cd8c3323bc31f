package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"huddle/internal/api"
	"huddle/internal/ws"

	"github.com/rs/cors"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string, allowedOrigins []string) *APIServer {
	mux := http.NewServeMux()
	guard := api.OriginGuard(allowedOrigins)

	mux.HandleFunc("POST /api/login", guard(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", guard(apiHandlers.LogoffHandler))
	mux.HandleFunc("POST /api/register", guard(apiHandlers.RegisterHandler))

	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("POST /api/users/me/display-name", guard(apiHandlers.RequireAuth(apiHandlers.UpdateDisplayNameHandler)))
	mux.HandleFunc("POST /api/users/me/avatar", guard(apiHandlers.RequireAuth(apiHandlers.UploadAvatarHandler)))
	mux.HandleFunc("POST /api/users/me/status", guard(apiHandlers.RequireAuth(apiHandlers.StatusHandler)))

	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))
	mux.HandleFunc("POST /api/dms", guard(apiHandlers.RequireAuth(apiHandlers.CreateDMHandler)))
	mux.HandleFunc("GET /api/groups", apiHandlers.RequireAuth(apiHandlers.GroupsHandler))
	mux.HandleFunc("POST /api/groups", guard(apiHandlers.RequireAuth(apiHandlers.CreateGroupHandler)))
	mux.HandleFunc("POST /api/groups/{id}/members", guard(apiHandlers.RequireAuth(apiHandlers.AddMemberHandler)))
	mux.HandleFunc("DELETE /api/groups/{id}/members/{userId}", guard(apiHandlers.RequireAuth(apiHandlers.RemoveMemberHandler)))

	mux.HandleFunc("GET /api/conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/conversations/{id}/messages", guard(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("POST /api/conversations/{id}/read", guard(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("POST /api/conversations/{id}/reactions", guard(apiHandlers.RequireAuth(apiHandlers.ReactHandler)))
	mux.HandleFunc("GET /api/conversations/{id}/thread", apiHandlers.RequireAuth(apiHandlers.ThreadRepliesHandler))
	mux.HandleFunc("POST /api/conversations/{id}/thread", guard(apiHandlers.RequireAuth(apiHandlers.ThreadReplyHandler)))

	mux.HandleFunc("POST /api/time/checkin", guard(apiHandlers.RequireAuth(apiHandlers.CheckInHandler)))
	mux.HandleFunc("POST /api/time/checkout", guard(apiHandlers.RequireAuth(apiHandlers.CheckOutHandler)))
	mux.HandleFunc("POST /api/time/break/start", guard(apiHandlers.RequireAuth(apiHandlers.StartBreakHandler)))
	mux.HandleFunc("POST /api/time/break/end", guard(apiHandlers.RequireAuth(apiHandlers.EndBreakHandler)))
	mux.HandleFunc("GET /api/time/state", apiHandlers.RequireAuth(apiHandlers.WorkStateHandler))
	mux.HandleFunc("GET /api/time/summary", apiHandlers.RequireAuth(apiHandlers.TimeSummaryHandler))

	mux.HandleFunc("POST /api/upload/image", guard(apiHandlers.RequireAuth(apiHandlers.UploadImageHandler)))
	mux.HandleFunc("GET /api/images/{id}", apiHandlers.GetImageHandler)

	mux.HandleFunc("GET /api/push/key", apiHandlers.VapidKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", guard(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	var handler http.Handler = mux
	if len(allowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Content-Type", "token"},
			AllowCredentials: true,
		}).Handler(mux)
	}

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
