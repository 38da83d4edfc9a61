package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/offsync/internal/models"
)

// EventType names a driver event.
type EventType string

const (
	EventOperationSent    EventType = "operation_sent"
	EventOperationFailed  EventType = "operation_failed"  // временная ошибка, операция осталась в очереди
	EventOperationDropped EventType = "operation_dropped" // операция удалена без доставки
	EventConflictDetected EventType = "conflict_detected"
	EventDrainStarted     EventType = "drain_started"
	EventDrainFinished    EventType = "drain_finished"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Time      time.Time
	Err       error
	Operation *models.PendingOperation
	Conflict  *models.DataConflict
	Result    *DrainResult // Result итог drain, только для drain_finished
	Type      EventType
}

// Subscribe returns a channel receiving driver events. Delivery never blocks
// the driver: when the buffer is full the event is dropped for that
// subscriber and a warning is logged. Call cancel to unsubscribe.
func (d *Driver) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	d.subsMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subsMu.Lock()
			delete(d.subs, id)
			close(ch)
			d.subsMu.Unlock()
		})
	}
	return ch, cancel
}

func (d *Driver) emit(ev Event) {
	ev.Time = d.now()

	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.logger.Warn("event dropped, subscriber is not keeping up",
				slog.String("event", string(ev.Type)))
		}
	}
}
