package order

import (
	"context"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service handles order business logic
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new order service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CreateOrder places an order on behalf of a session
func (s *Service) CreateOrder(ctx context.Context, sessionID string, req *CreateOrderRequest) (*Order, error) {
	o := &Order{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Item:      req.Item,
		Quantity:  req.Quantity,
		Note:      req.Note,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.logger.Error("failed to create order", zap.String("session_id", sessionID), zap.Error(err))
		return nil, errors.DBError(err)
	}

	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("session_id", sessionID),
	)
	return o, nil
}

// ListOrders returns one page of the session's orders, newest first
func (s *Service) ListOrders(ctx context.Context, sessionID string, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	offset := (req.Page - 1) * req.PageSize
	orders, err := s.repo.ListBySession(ctx, sessionID, req.PageSize, offset)
	if err != nil {
		s.logger.Error("failed to list orders", zap.String("session_id", sessionID), zap.Error(err))
		return nil, errors.DBError(err)
	}

	resp := &ListOrdersResponse{
		Orders:   make([]OrderResponse, 0, len(orders)),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, ToOrderResponse(o))
	}
	return resp, nil
}
