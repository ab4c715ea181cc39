package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
)

// HandleNotification обрабатывает уведомление платёжного провайдера.
// Подпись проверяется по сырому телу; недоверенное событие состояние не меняет.
// События, кроме завершённой платёжной сессии, игнорируются: возвращается
// (nil, nil). Для завершённой сессии по каждой позиции метаданных уменьшается
// остаток товара и зачищаются корзины, затем создаётся заказ в статусе pending.
// Позиции фиксируются построчно: сбой посреди обработки оставляет уже
// применённые эффекты.
func (s *Service) HandleNotification(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
	event, err := payment.ConstructEvent(payload, sigHeader, s.opts.WebhookSecret)
	if err != nil {
		return nil, err
	}

	if event.Type != payment.EventCheckoutCompleted {
		return nil, nil
	}

	obj := event.Data.Object

	var body strings.Builder
	for productKey, quantityValue := range obj.Metadata {
		productID, err := strconv.ParseInt(productKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad product id %q", payment.ErrMalformedPayload, productKey)
		}
		quantity, err := strconv.ParseInt(quantityValue, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad quantity %q", payment.ErrMalformedPayload, quantityValue)
		}

		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}

		fmt.Fprintf(&body, "id=%d name=%s amount=%d   //   ", product.ID, product.Name, quantity)

		if err := s.repo.ApplySettlementLine(ctx, productID, quantity); err != nil {
			return nil, err
		}
	}

	addr := obj.ShippingDetails.Address
	order := &model.Order{
		City:        addr.City,
		Country:     addr.Country,
		Line1:       addr.Line1,
		Line2:       addr.Line2,
		PostalCode:  addr.PostalCode,
		Body:        body.String(),
		AmountTotal: float64(obj.AmountTotal) * 0.01,
		Status:      model.OrderStatusPending,
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	order.ID = id

	return order, nil
}
