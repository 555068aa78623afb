package tools

import (
	"encoding/json"
	"fmt"
)

type fullResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	TasksError    int    `json:"tasks_error"`
	Tasks         []struct {
		StatusCode    int             `json:"status_code"`
		StatusMessage string          `json:"status_message"`
		Result        json.RawMessage `json:"result"`
	} `json:"tasks"`
}

type summaryResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

func ok(code int) bool {
	return code/100 == 200
}

// FormatResponse validates an upstream response and returns what the client sees: the
// first task's result for full responses, the whole body for compact ones.
func FormatResponse(resp json.RawMessage, full bool) (json.RawMessage, error) {
	if !full {
		var r summaryResponse
		if err := json.Unmarshal(resp, &r); err != nil {
			return nil, fmt.Errorf("invalid API response: %w", err)
		}
		if !ok(r.StatusCode) {
			return nil, fmt.Errorf("API Error: %s (Code: %d)", r.StatusMessage, r.StatusCode)
		}
		return resp, nil
	}

	var r fullResponse
	if err := json.Unmarshal(resp, &r); err != nil {
		return nil, fmt.Errorf("invalid API response: %w", err)
	}
	if !ok(r.StatusCode) {
		return nil, fmt.Errorf("API Error: %s (Code: %d)", r.StatusMessage, r.StatusCode)
	}
	if len(r.Tasks) == 0 {
		return nil, fmt.Errorf("No tasks in response")
	}
	task := r.Tasks[0]
	if !ok(task.StatusCode) {
		return nil, fmt.Errorf("Task Error: %s (Code: %d)", task.StatusMessage, task.StatusCode)
	}
	if r.TasksError > 0 {
		return nil, fmt.Errorf("Tasks Error: %d tasks failed", r.TasksError)
	}
	if len(task.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return task.Result, nil
}
