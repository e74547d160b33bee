// Package orders provides order bookkeeping for the backtest engine: ticket
// tracking, the order event log and the order-sequence hash.
package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrUnknownOrder is returned when an event references an order the manager never issued.
var ErrUnknownOrder = errors.New("unknown order")

// ErrOrderClosed is returned when an event arrives for an order that is already closed.
var ErrOrderClosed = errors.New("order already closed")

// Manager assigns order IDs, tracks tickets and keeps the append-only event log.
type Manager struct {
	logger  logrus.FieldLogger
	tickets map[int]*models.OrderTicket
	events  []models.OrderEvent
	nextID  int
	mu      sync.RWMutex
}

// NewManager creates a new order manager instance.
func NewManager(logger logrus.FieldLogger) *Manager {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Manager{
		logger:  logger,
		tickets: make(map[int]*models.OrderTicket),
		nextID:  1,
	}
}

// Open registers a new order and returns its ticket in status New.
func (m *Manager) Open(symbol models.Symbol, orderType models.OrderType, quantity int, at time.Time, tag string) *models.OrderTicket {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket := &models.OrderTicket{
		ID:       m.nextID,
		Symbol:   symbol,
		Type:     orderType,
		Quantity: quantity,
		Status:   models.OrderStatusNew,
		Time:     at,
		Tag:      tag,
	}
	m.tickets[ticket.ID] = ticket
	m.nextID++

	m.logger.WithFields(logrus.Fields{
		"order_id": ticket.ID,
		"symbol":   symbol.Value,
		"type":     orderType,
		"quantity": quantity,
	}).Debug("Order opened")
	return ticket
}

// Apply records an event and updates the ticket it references.
func (m *Manager) Apply(event models.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket, ok := m.tickets[event.OrderID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, event.OrderID)
	}
	if ticket.Status.IsClosed() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderClosed, ticket.ID, ticket.Status)
	}

	if event.Status.IsFill() {
		filledBefore := decimal.NewFromInt(int64(abs(ticket.QuantityFilled)))
		filledNow := decimal.NewFromInt(int64(abs(event.FillQuantity)))
		total := filledBefore.Add(filledNow)
		if !total.IsZero() {
			ticket.AverageFillPrice = ticket.AverageFillPrice.Mul(filledBefore).
				Add(event.FillPrice.Mul(filledNow)).
				Div(total)
		}
		ticket.QuantityFilled += event.FillQuantity
	}
	ticket.Status = event.Status
	m.events = append(m.events, event)

	m.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"symbol":   event.Symbol.Value,
		"status":   event.Status,
	}).Debug("Order event applied")
	return nil
}

// Ticket returns a copy of the ticket for id.
func (m *Manager) Ticket(id int) (models.OrderTicket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.OrderTicket{}, false
	}
	return *t, true
}

// Tickets returns copies of all tickets ordered by ID.
func (m *Manager) Tickets() []models.OrderTicket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OrderTicket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns a copy of the event log in arrival order.
func (m *Manager) Events() []models.OrderEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OrderEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Fills returns the fill events in arrival order.
func (m *Manager) Fills() []models.OrderEvent {
	var fills []models.OrderEvent
	for _, e := range m.Events() {
		if e.Status.IsFill() {
			fills = append(fills, e)
		}
	}
	return fills
}

// TotalFees sums the fees across all events.
func (m *Manager) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.Events() {
		total = total.Add(e.Fee)
	}
	return total
}

// Lines renders each ticket as a canonical order line.
func (m *Manager) Lines() []string {
	tickets := m.Tickets()
	lines := make([]string, 0, len(tickets))
	for i := range tickets {
		lines = append(lines, Line(&tickets[i]))
	}
	return lines
}

// Line renders a ticket as "id,symbol,type,quantity,status,average fill price".
func Line(t *models.OrderTicket) string {
	return fmt.Sprintf("%d,%s,%s,%d,%s,%s",
		t.ID, t.Symbol.Value, t.Type, t.Quantity, t.Status, t.AverageFillPrice.StringFixed(2))
}

// ListHash is the hex SHA-256 of the newline-joined order lines.
func ListHash(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
