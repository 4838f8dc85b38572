// Package job drives a crawl end to end: listing pages to restaurant
// records to wine list discovery, download, and extraction, with
// checkpointing so an interrupted run resumes where it stopped.
package job

import (
	"encoding/json"
	"fmt"
)

// checkpointVersion guards the persisted checkpoint layout. A checkpoint
// written by a different layout is discarded rather than misread.
const checkpointVersion = 1

// Checkpoint is the resumable position of a run, stored on the job row
// after every restaurant.
type Checkpoint struct {
	Version int `json:"version"`
	Page    int `json:"page"`
	// Index is the next unprocessed restaurant on the page.
	Index int `json:"index"`
}

func (c Checkpoint) Encode() string {
	c.Version = checkpointVersion
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeCheckpoint parses a stored checkpoint. An empty or incompatible
// value yields a fresh start from page one.
func DecodeCheckpoint(s string) (Checkpoint, error) {
	fresh := Checkpoint{Version: checkpointVersion, Page: 1}
	if s == "" {
		return fresh, nil
	}
	var c Checkpoint
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return fresh, fmt.Errorf("parsing checkpoint: %w", err)
	}
	if c.Version != checkpointVersion {
		return fresh, nil
	}
	if c.Page < 1 {
		c.Page = 1
	}
	return c, nil
}

// maxErrorLen caps stored failure messages so one giant stack trace does
// not bloat the jobs table. maxJobErrors bounds how many node errors a
// run accumulates into that message.
const (
	maxErrorLen  = 2000
	maxJobErrors = 20
)

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
