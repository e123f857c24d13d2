package scheduler

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// CycleRecord is one line of the ndjson audit trail written per evaluation
// cycle, alongside the database snapshot.
type CycleRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Close     string    `json:"close,omitempty"`
	Mean      string    `json:"ma,omitempty"`
	Advice    string    `json:"advice,omitempty"`
	Result    string    `json:"result"`
	Detail    string    `json:"detail,omitempty"`
}

type CycleLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewCycleLog(path string) (*CycleLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &CycleLog{file: file, writer: bufio.NewWriter(file)}, nil
}

// Append writes one record and flushes. Safe on a nil receiver so callers
// can run without an audit file.
func (c *CycleLog) Append(rec CycleRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if _, err := c.writer.Write(append(payload, '\n')); err != nil {
		return
	}
	_ = c.writer.Flush()
}

func (c *CycleLog) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.Flush(); err != nil {
		_ = c.file.Close()
		return err
	}
	return c.file.Close()
}
