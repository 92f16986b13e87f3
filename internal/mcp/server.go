package mcp

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"
)

// Server exposes request operations as MCP tools so agents can participate
// in approval flows. Every tool acts on behalf of a workspace member named
// by email; the same permission checks apply as on the HTTP API.
type Server struct {
	mcpServer *server.MCPServer
	service   *lifecycle.Service
	users     repository.UserRepository
}

func NewServer(service *lifecycle.Service, users repository.UserRepository) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Relay OS",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		service: service,
		users:   users,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_requests",
			mcp.WithDescription("List the requests visible to a workspace member"),
			mcp.WithString("user_email", mcp.Required(), mcp.Description("Email of the acting workspace member")),
			mcp.WithString("status", mcp.Description("Optional status filter: running, completed, canceled, failed")),
		),
		s.handleListRequests,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_request",
			mcp.WithDescription("Fetch a request with its audit log"),
			mcp.WithString("user_email", mcp.Required(), mcp.Description("Email of the acting workspace member")),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The ID of the request")),
		),
		s.handleGetRequest,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_request",
			mcp.WithDescription("Approve an active approval step on a request"),
			mcp.WithString("user_email", mcp.Required(), mcp.Description("Email of the acting workspace member")),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The ID of the request")),
			mcp.WithString("step_key", mcp.Required(), mcp.Description("The key of the active approval step")),
			mcp.WithString("comment", mcp.Description("Optional comment recorded in the audit log")),
		),
		s.handleApproveRequest,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reject_request",
			mcp.WithDescription("Reject an active approval step, failing the request"),
			mcp.WithString("user_email", mcp.Required(), mcp.Description("Email of the acting workspace member")),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The ID of the request")),
			mcp.WithString("step_key", mcp.Required(), mcp.Description("The key of the active approval step")),
			mcp.WithString("comment", mcp.Required(), mcp.Description("The reason for the rejection")),
		),
		s.handleRejectRequest,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_step",
			mcp.WithDescription("Mark an active action step as completed"),
			mcp.WithString("user_email", mcp.Required(), mcp.Description("Email of the acting workspace member")),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The ID of the request")),
			mcp.WithString("step_key", mcp.Required(), mcp.Description("The key of the active action step")),
			mcp.WithString("comment", mcp.Description("Optional comment recorded in the audit log")),
		),
		s.handleCompleteStep,
	)
}

func (s *Server) actingUser(ctx context.Context, args map[string]interface{}) (*models.User, *mcp.CallToolResult) {
	email, ok := args["user_email"].(string)
	if !ok || email == "" {
		return nil, mcp.NewToolResultError("Missing required parameter: user_email")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Unknown workspace member: %s", email))
	}
	return user, nil
}

func (s *Server) handleListRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	user, errResult := s.actingUser(ctx, args)
	if errResult != nil {
		return errResult, nil
	}

	filter := repository.RequestFilter{}
	if status, ok := args["status"].(string); ok {
		filter.Status = models.RequestStatus(status)
	}

	reqs, err := s.service.ListRequests(ctx, user, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list requests: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(reqs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	user, errResult := s.actingUser(ctx, args)
	if errResult != nil {
		return errResult, nil
	}

	requestID, ok := args["request_id"].(string)
	if !ok || requestID == "" {
		return mcp.NewToolResultError("Missing required parameter: request_id"), nil
	}

	req, entries, err := s.service.GetRequest(ctx, user, requestID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get request: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{"request": req, "log": entries})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.applyAction(ctx, request, models.ActionApprove)
}

func (s *Server) handleRejectRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.applyAction(ctx, request, models.ActionReject)
}

func (s *Server) handleCompleteStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.applyAction(ctx, request, models.ActionComplete)
}

func (s *Server) applyAction(ctx context.Context, request mcp.CallToolRequest, action models.ActionType) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	user, errResult := s.actingUser(ctx, args)
	if errResult != nil {
		return errResult, nil
	}

	requestID, ok := args["request_id"].(string)
	if !ok || requestID == "" {
		return mcp.NewToolResultError("Missing required parameter: request_id"), nil
	}
	stepKey, ok := args["step_key"].(string)
	if !ok || stepKey == "" {
		return mcp.NewToolResultError("Missing required parameter: step_key"), nil
	}
	comment, _ := args["comment"].(string)

	req, err := s.service.ApplyAction(ctx, user, requestID, lifecycle.ActionInput{
		Type:    action,
		StepKey: stepKey,
		Comment: comment,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to apply %s: %v", action, err)), nil
	}

	jsonBytes, _ := json.Marshal(req)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
