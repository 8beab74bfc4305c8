package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rl1809/keyvault/internal/core/domain"
)

type lineItemMessage struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description,omitempty"`
}

type taskMessage struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id,omitempty"`
	OrderID    string            `json:"order_id"`
	Email      string            `json:"email,omitempty"`
	Items      []lineItemMessage `json:"items"`
	ReceivedAt time.Time         `json:"received_at"`
	Attempt    int               `json:"attempt"`
}

func encodeTask(task domain.FulfillmentTask) ([]byte, error) {
	msg := taskMessage{
		ID:         task.ID,
		EventID:    task.Event.EventID,
		OrderID:    task.Event.OrderID,
		Email:      task.Event.Email,
		Items:      make([]lineItemMessage, 0, len(task.Event.Items)),
		ReceivedAt: task.Event.ReceivedAt,
		Attempt:    task.Attempt,
	}
	for _, it := range task.Event.Items {
		msg.Items = append(msg.Items, lineItemMessage{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			Description: it.Description,
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	return body, nil
}

func decodeTask(body []byte) (domain.FulfillmentTask, error) {
	var msg taskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.FulfillmentTask{}, fmt.Errorf("unmarshal task: %w", err)
	}

	task := domain.FulfillmentTask{
		ID:      msg.ID,
		Attempt: msg.Attempt,
		Event: domain.PaymentEvent{
			EventID:    msg.EventID,
			OrderID:    msg.OrderID,
			Email:      msg.Email,
			Items:      make([]domain.LineItem, 0, len(msg.Items)),
			ReceivedAt: msg.ReceivedAt,
		},
	}
	for _, it := range msg.Items {
		task.Event.Items = append(task.Event.Items, domain.LineItem{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			Description: it.Description,
		})
	}
	return task, nil
}
