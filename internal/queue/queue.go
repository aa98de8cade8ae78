// Package queue holds the wire format shared by the durable task queues.
//
// Tasks travel as JSON objects. A bare decimal product ID is also accepted so
// other producers can push work with a one-line command.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// EncodeTask renders task for a queue payload.
func EncodeTask(task tracker.AcquisitionTask) ([]byte, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return payload, nil
}

// DecodeTask parses a queue payload.
func DecodeTask(payload []byte) (tracker.AcquisitionTask, error) {
	trimmed := strings.TrimSpace(string(payload))
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if id <= 0 {
			return tracker.AcquisitionTask{}, fmt.Errorf("decode task %q: product id must be positive", trimmed)
		}
		return tracker.AcquisitionTask{ProductID: id}, nil
	}
	var task tracker.AcquisitionTask
	if err := json.Unmarshal([]byte(trimmed), &task); err != nil {
		return tracker.AcquisitionTask{}, fmt.Errorf("decode task %q: %w", trimmed, err)
	}
	if task.ProductID <= 0 {
		return tracker.AcquisitionTask{}, fmt.Errorf("decode task %q: missing product_id", trimmed)
	}
	return task, nil
}
