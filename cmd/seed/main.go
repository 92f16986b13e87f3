package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"relay-os/backend/internal/config"
	"relay-os/backend/internal/engine"
	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/logging"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	workflows := repository.NewPostgresWorkflowStore(pool)
	requests := repository.NewPostgresRequestStore(pool)
	logs := repository.NewPostgresAuditLogStore(pool)
	users := repository.NewPostgresUserStore(pool)

	// 1. Ensure one user per role exists
	seedUsers := []struct {
		Email string
		Name  string
		Role  models.Role
	}{
		{"admin@localhost", "Ada Admin", models.RoleAdmin},
		{"manager@localhost", "Mia Manager", models.RoleWorkspaceManager},
		{"finance@localhost", "Finn Finance", models.RoleFinanceApprover},
		{"user@localhost", "Uma User", models.RoleUser},
	}

	byEmail := map[string]*models.User{}
	for _, su := range seedUsers {
		user, err := users.GetByEmail(ctx, su.Email)
		if err == nil {
			logger.Info("Found existing user", "email", su.Email)
			byEmail[su.Email] = user
			continue
		}
		user = &models.User{
			ID:        uuid.New().String(),
			Email:     su.Email,
			Name:      su.Name,
			Role:      su.Role,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := users.Create(ctx, user); err != nil {
			log.Fatalf("Failed to create user %s: %v", su.Email, err)
		}
		logger.Info("Seeded user", "email", su.Email, "role", su.Role)
		byEmail[su.Email] = user
	}

	// 2. Check for an existing expense workflow to prevent duplicates
	existing, err := workflows.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	for _, w := range existing {
		if w.Name == "Expense Approval" {
			logger.Info("Skipping existing workflow", "name", w.Name)
			return
		}
	}

	// 3. Create the demo expense workflow: manager approval, then a finance
	// approval only for large amounts, then payout and a notification.
	manager := byEmail["manager@localhost"]
	finance := byEmail["finance@localhost"]
	admin := byEmail["admin@localhost"]

	wf := &models.Workflow{
		ID:          uuid.New().String(),
		WorkflowKey: uuid.New().String(),
		Version:     1,
		IsLatest:    true,
		Name:        "Expense Approval",
		Description: "Expense reimbursement with a finance sign-off above 1000.",
		Status:      models.WorkflowStatusDraft,
		StartKey:    "manager_approval",
		Fields: []models.FieldDefinition{
			{Key: "amount", Label: "Amount", Type: models.FieldTypeAmount, Required: true, Position: 0},
			{Key: "description", Label: "Description", Type: models.FieldTypeText, Required: true, Position: 1},
			{Key: "category", Label: "Category", Type: models.FieldTypeList, Position: 2,
				Options: []string{"travel", "equipment", "meals", "other"}},
		},
		Steps: map[string]models.StepDefinition{
			"manager_approval": {
				Type:      models.StepTypeApproval,
				Name:      "Manager Approval",
				Assignees: []string{manager.ID},
				Policy:    models.ApprovalPolicyAny,
				Next:      "amount_gate",
			},
			"amount_gate": {
				Type: models.StepTypeGatewayExclusive,
				Name: "Amount Gate",
				Branches: []models.Branch{
					{Condition: "amount > 1000", To: "finance_approval"},
				},
				Next: "payout",
			},
			"finance_approval": {
				Type:      models.StepTypeApproval,
				Name:      "Finance Approval",
				Assignees: []string{finance.ID},
				Policy:    models.ApprovalPolicyAny,
				Next:      "payout",
			},
			"payout": {
				Type:     models.StepTypeAction,
				Name:     "Process Payout",
				Assignee: admin.ID,
				Next:     "notify",
			},
			"notify": {
				Type:   models.StepTypeSystemTask,
				Name:   "Notify Requester",
				Action: models.SystemActionEmail,
				Config: map[string]any{"template": "expense_paid"},
			},
		},
		CreatedBy: admin.ID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := engine.Validate(wf); err != nil {
		log.Fatalf("Seed workflow failed validation: %v", err)
	}
	wf.Status = models.WorkflowStatusPublished

	if err := workflows.Create(ctx, wf); err != nil {
		log.Fatalf("Failed to create workflow: %v", err)
	}
	logger.Info("Seeded workflow", "name", wf.Name, "id", wf.ID)

	// 4. Start a demo request so the workspace is not empty
	eng := engine.New(nil)
	service := lifecycle.NewService(workflows, requests, logs, eng, nil, logger)

	req, err := service.CreateRequest(ctx, byEmail["user@localhost"], wf.ID, map[string]any{
		"amount":      420.50,
		"description": "Team offsite travel",
		"category":    "travel",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to create demo request: %v", err)
	}
	logger.Info("Seeded demo request", "id", req.ID)
	logger.Info("Seeding complete!")
}
