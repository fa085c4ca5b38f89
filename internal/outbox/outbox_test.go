package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/munal98/fintra-stock-trading-sub001/internal/database"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordingSink captures delivered events and optionally fails.
type recordingSink struct {
	events []types.TradeMatchedEvent
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, event types.TradeMatchedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return db
}

func insertEvent(t *testing.T, db *gorm.DB, event types.TradeMatchedEvent) string {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	row := &types.OutboxEvent{
		EventID:   event.MatchID,
		EventType: types.EventTypeTradeMatched,
		Payload:   string(payload),
		Status:    types.OutboxStatusPending,
	}
	require.NoError(t, db.Create(row).Error)
	return row.EventID
}

func sampleEvent() types.TradeMatchedEvent {
	return types.TradeMatchedEvent{
		MatchID:     uuid.New().String(),
		BuyOrderID:  uuid.New().String(),
		SellOrderID: uuid.New().String(),
		BuyTradeID:  uuid.New().String(),
		SellTradeID: uuid.New().String(),
		Quantity:    10,
		Price:       decimal.RequireFromString("50.00"),
		Timestamp:   time.Now().UTC(),
	}
}

func TestDispatchDeliversAndMarksEvents(t *testing.T) {
	db := newTestDB(t)
	sink := &recordingSink{}
	dispatcher := NewDispatcher(db, sink, time.Second)

	event := sampleEvent()
	eventID := insertEvent(t, db, event)

	require.NoError(t, dispatcher.DispatchPending(context.Background()))

	require.Len(t, sink.events, 1)
	assert.Equal(t, event.MatchID, sink.events[0].MatchID)
	assert.Equal(t, int64(10), sink.events[0].Quantity)
	assert.True(t, sink.events[0].Price.Equal(event.Price))

	var row types.OutboxEvent
	require.NoError(t, db.Where("event_id = ?", eventID).First(&row).Error)
	assert.Equal(t, types.OutboxStatusDelivered, row.Status)
	require.NotNil(t, row.DeliveredAt)
}

func TestDispatchDoesNotRedeliver(t *testing.T) {
	db := newTestDB(t)
	sink := &recordingSink{}
	dispatcher := NewDispatcher(db, sink, time.Second)

	insertEvent(t, db, sampleEvent())

	require.NoError(t, dispatcher.DispatchPending(context.Background()))
	require.NoError(t, dispatcher.DispatchPending(context.Background()))

	assert.Len(t, sink.events, 1, "delivered event must not replay")
}

func TestDispatchPreservesInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	sink := &recordingSink{}
	dispatcher := NewDispatcher(db, sink, time.Second)

	first := sampleEvent()
	second := sampleEvent()
	insertEvent(t, db, first)
	insertEvent(t, db, second)

	require.NoError(t, dispatcher.DispatchPending(context.Background()))

	require.Len(t, sink.events, 2)
	assert.Equal(t, first.MatchID, sink.events[0].MatchID)
	assert.Equal(t, second.MatchID, sink.events[1].MatchID)
}

func TestSinkFailureLeavesEventPending(t *testing.T) {
	db := newTestDB(t)
	sink := &recordingSink{err: errors.New("downstream unavailable")}
	dispatcher := NewDispatcher(db, sink, time.Second)

	eventID := insertEvent(t, db, sampleEvent())

	require.Error(t, dispatcher.DispatchPending(context.Background()))

	var row types.OutboxEvent
	require.NoError(t, db.Where("event_id = ?", eventID).First(&row).Error)
	assert.Equal(t, types.OutboxStatusPending, row.Status, "failed delivery must stay pending for retry")
	assert.Nil(t, row.DeliveredAt)

	// The sink recovers; the event is delivered on the next pass.
	sink.err = nil
	require.NoError(t, dispatcher.DispatchPending(context.Background()))
	require.Len(t, sink.events, 1)
}

func TestUndecodablePayloadIsParkedNotRetried(t *testing.T) {
	db := newTestDB(t)
	sink := &recordingSink{}
	dispatcher := NewDispatcher(db, sink, time.Second)

	require.NoError(t, db.Create(&types.OutboxEvent{
		EventID:   uuid.New().String(),
		EventType: types.EventTypeTradeMatched,
		Payload:   "{not json",
		Status:    types.OutboxStatusPending,
	}).Error)
	good := sampleEvent()
	insertEvent(t, db, good)

	require.NoError(t, dispatcher.DispatchPending(context.Background()))

	// The bad row no longer blocks the queue and the good one got through.
	var pending int64
	require.NoError(t, db.Model(&types.OutboxEvent{}).
		Where("status = ?", types.OutboxStatusPending).Count(&pending).Error)
	assert.Equal(t, int64(0), pending)
	require.Len(t, sink.events, 1)
	assert.Equal(t, good.MatchID, sink.events[0].MatchID)
}
