package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mariko-app/cart-system/internal/model"
)

const dispatchQueueSize = 64

type dispatchJob struct {
	cfg   *model.IntegrationConfig
	order *model.Order
}

// enqueueDispatch ставит заказ в очередь отправки в POS и сразу возвращает
// управление. Переполненная очередь приводит к потере задачи с записью в лог,
// но не блокирует оформление заказа.
func (s *Service) enqueueDispatch(cfg *model.IntegrationConfig, order *model.Order) {
	select {
	case s.dispatchQueue <- dispatchJob{cfg: cfg, order: order}:
	default:
		s.logger.Warn("pos dispatch queue is full, order skipped",
			zap.String("externalID", order.ExternalID),
			zap.String("restaurantID", order.RestaurantID))
	}
}

// StartDispatchWorker выполняет фоновую отправку заказов в POS до отмены
// контекста. Результат отправки только логируется: заказ к этому моменту уже
// сохранён, и сбой POS не откатывает его.
func (s *Service) StartDispatchWorker(ctx context.Context) {
	if s.pos == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.dispatchQueue:
			s.dispatch(ctx, job)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, job dispatchJob) {
	res := s.pos.CreateOrder(ctx, job.cfg, job.order)
	if !res.Success {
		s.logger.Error("pos dispatch failed",
			zap.String("externalID", job.order.ExternalID),
			zap.String("restaurantID", job.order.RestaurantID),
			zap.String("provider", job.cfg.Provider),
			zap.String("posError", res.Error))
		return
	}

	s.logger.Info("order dispatched to pos",
		zap.String("externalID", job.order.ExternalID),
		zap.String("posOrderID", res.OrderID),
		zap.String("posStatus", res.Status))
}
