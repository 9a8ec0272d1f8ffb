package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Status strings the backend is known to use. They are names for callers only;
// the backend is authoritative for which values and transitions are allowed.
const (
	StatusPending   = "pendiente"
	StatusPreparing = "en_preparacion"
	StatusReady     = "listo"
	StatusDelivered = "entregado"
)

// OrderID is the backend identifier kept as its literal JSON text.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode order id: %w", err)
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode order id: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

func (id OrderID) String() string {
	return string(id)
}

// Order is a kitchen work item. Only the id and status are interpreted,
// everything else the backend sent is kept in Raw.
type Order struct {
	ID     OrderID         `json:"id"`
	Status string          `json:"estado"`
	Raw    json.RawMessage `json:"-"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var fields struct {
		ID     OrderID `json:"id"`
		Estado *string `json:"estado"`
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	o.ID = fields.ID
	switch {
	case fields.Estado != nil:
		o.Status = *fields.Estado
	case fields.Status != nil:
		o.Status = *fields.Status
	default:
		o.Status = ""
	}
	o.Raw = append(o.Raw[:0], data...)
	return nil
}

// MarshalJSON writes Raw back when present so unknown backend fields survive.
// ID and Status changed after decoding are laid over it.
func (o Order) MarshalJSON() ([]byte, error) {
	if len(o.Raw) == 0 {
		type alias Order
		return json.Marshal(alias(o))
	}

	var orig Order
	if err := orig.UnmarshalJSON(o.Raw); err != nil {
		return o.Raw, nil
	}
	if orig.ID == o.ID && orig.Status == o.Status {
		return o.Raw, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(o.Raw, &fields); err != nil || fields == nil {
		return o.Raw, nil
	}
	if orig.ID != o.ID {
		id, err := json.Marshal(o.ID.String())
		if err != nil {
			return nil, err
		}
		fields["id"] = id
	}
	if orig.Status != o.Status {
		status, err := json.Marshal(o.Status)
		if err != nil {
			return nil, err
		}
		key := "estado"
		if _, hasEstado := fields["estado"]; !hasEstado {
			if _, hasStatus := fields["status"]; hasStatus {
				key = "status"
			}
		}
		fields[key] = status
	}
	return json.Marshal(fields)
}

var ErrNotOrderList = errors.New("response is not a list of orders")

// DecodeOrders parses a backend order sequence, preserving its order.
// A JSON null decodes to an empty slice.
func DecodeOrders(data []byte) ([]Order, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Order{}, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrNotOrderList
	}

	orders := []Order{}
	if err := json.Unmarshal(trimmed, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

// StatusUpdate is the body of a status change request.
type StatusUpdate struct {
	NuevoEstado string `json:"nuevo_estado" validate:"required"`
}
