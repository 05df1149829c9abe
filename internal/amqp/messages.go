package amqp

import (
	"encoding/json"
	"time"
)

// EntryExportMessage tells the export worker that a ledger entry is ready
// for the spreadsheet. Only the id travels; the worker loads the full entry
// from the database so the queue never carries stale data.
type EntryExportMessage struct {
	EntryID   int64     `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntryExportMessage(entryID int64) *EntryExportMessage {
	return &EntryExportMessage{
		EntryID:   entryID,
		Timestamp: time.Now(),
	}
}

func (m *EntryExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EntryExportMessageFromJSON(data []byte) (*EntryExportMessage, error) {
	var msg EntryExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
