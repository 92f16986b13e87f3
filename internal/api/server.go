package api

import (
	"github.com/labstack/echo/v4"

	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/repository"
)

// Server holds the dependencies for the API server.
type Server struct {
	Lifecycle *lifecycle.Service
	Workflows repository.WorkflowRepository
	Users     repository.UserRepository
}

// NewServer creates a new Server.
func NewServer(svc *lifecycle.Service, workflows repository.WorkflowRepository, users repository.UserRepository) *Server {
	return &Server{Lifecycle: svc, Workflows: workflows, Users: users}
}

// RegisterHandlers mounts all API routes on the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/health", s.HandleHealth)

	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/publish", s.PublishWorkflow)
	g.POST("/workflows/:id/archive", s.ArchiveWorkflow)
	g.POST("/workflows/:id/requests", s.CreateRequest)

	g.GET("/requests", s.ListRequests)
	g.GET("/requests/:id", s.GetRequest)
	g.POST("/requests/:id/approve", s.ApproveRequest)
	g.POST("/requests/:id/reject", s.RejectRequest)
	g.POST("/requests/:id/request-changes", s.RequestChanges)
	g.POST("/requests/:id/execute", s.ExecuteRequest)
	g.POST("/requests/:id/cancel", s.CancelRequest)
	g.POST("/requests/:id/comment", s.CommentRequest)
	g.PATCH("/requests/:id/context", s.UpdateRequestContext)
	g.GET("/requests/:id/next-steps", s.NextSteps)

	g.GET("/users", s.ListUsers)
}
