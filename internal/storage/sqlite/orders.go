package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/logger"
)

// ConvertLead inserts an order for a lead, links it and moves the lead to converted in one transaction.
func (c *Client) ConvertLead(ctx context.Context, order *models.Order) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := c.setStatusTx(ctx, tx, order.LeadID, models.StatusConverted, "submit_order"); err != nil {
		return err
	}

	if err := c.insertOrderTx(ctx, tx, order); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE leads SET converted_order_id = ?, updated_at = ? WHERE id = ?`,
		order.ID, c.now().Unix(), order.LeadID,
	)
	if err != nil {
		return fmt.Errorf("failed to link order to lead: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	logger.Info("Lead converted",
		zap.String("lead_id", order.LeadID),
		zap.String("order_id", order.ID),
	)
	return nil
}

func (c *Client) insertOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	created := order.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	status := order.Status
	if status == "" {
		status = "pending"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, lead_id, customer_name, customer_email, customer_phone, service_address,
			service_type, plan, notes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.ID,
		nullString(order.LeadID),
		order.CustomerName,
		nullString(order.CustomerEmail),
		nullString(order.CustomerPhone),
		nullString(order.ServiceAddress),
		nullString(order.ServiceType),
		nullString(order.Plan),
		nullString(order.Notes),
		status,
		created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var (
		o                                        models.Order
		leadID, email, phone, address, svc, plan sql.NullString
		notes                                    sql.NullString
		createdAt                                int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, lead_id, customer_name, customer_email, customer_phone, service_address,
			service_type, plan, notes, status, created_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &leadID, &o.CustomerName, &email, &phone, &address, &svc, &plan, &notes, &o.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	o.LeadID = leadID.String
	o.CustomerEmail = email.String
	o.CustomerPhone = phone.String
	o.ServiceAddress = address.String
	o.ServiceType = svc.String
	o.Plan = plan.String
	o.Notes = notes.String
	o.CreatedAt = time.Unix(createdAt, 0)
	return &o, nil
}
