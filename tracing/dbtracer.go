// Package tracing turns the events of the paging core into records.
package tracing

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/vm"
)

// EventTableName is the table that a DBTracer writes to.
const EventTableName = "paging_events"

// An EventRecord is one row of the event table.
type EventRecord struct {
	ID     string `json:"id"`
	Time   int64  `json:"time"`
	Kind   string `json:"kind"`
	PID    uint32 `json:"pid"`
	UPage  uint64 `json:"upage"`
	PAddr  uint64 `json:"paddr"`
	Slot   int64  `json:"slot"`
	Detail string `json:"detail"`
}

// DBTracer is a hook that stores every event it sees in a DataRecorder.
type DBTracer struct {
	backend   datarecording.DataRecorder
	startTime time.Time
}

// NewDBTracer creates a DBTracer and the table it writes to.
func NewDBTracer(backend datarecording.DataRecorder) *DBTracer {
	backend.CreateTable(EventTableName, EventRecord{})

	return &DBTracer{
		backend:   backend,
		startTime: time.Now(),
	}
}

// Func records the event.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	record := EventRecord{
		ID:   xid.New().String(),
		Time: int64(time.Since(t.startTime)),
		Kind: ctx.Pos.Name,
		Slot: -1,
	}

	if evt, ok := ctx.Item.(vm.PageEvent); ok {
		record.PID = uint32(evt.PID)
		record.UPage = evt.UPage
		record.PAddr = evt.PAddr
		record.Slot = evt.Slot
	} else if ctx.Item != nil {
		record.Detail = fmt.Sprint(ctx.Item)
	}

	if ctx.Detail != nil {
		record.Detail = fmt.Sprint(ctx.Detail)
	}

	t.backend.InsertData(EventTableName, record)
}
