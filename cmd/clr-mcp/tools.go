package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// request builds the method, path and body for one tool call
type request func(args map[string]any) (method, path string, body any, err error)

func registerTools(s *server.MCPServer, c *client) {
	s.AddTool(mcp.NewTool("clr_state",
		mcp.WithDescription("Current cognitive load snapshot: load score, attention context, confidence, CLT breakdown and features."),
	), c.proxy(get("/state")))

	s.AddTool(mcp.NewTool("clr_directives",
		mcp.WithDescription("Recommended actions for the current load and context, most urgent first."),
	), c.proxy(get("/actions/directives")))

	s.AddTool(mcp.NewTool("clr_focus_start",
		mcp.WithDescription("Start (or restart) focus mode."),
		mcp.WithNumber("duration_minutes",
			mcp.Description("Focus duration in minutes, up to 240. Default: 25"),
		),
		mcp.WithBoolean("block_tabs",
			mcp.Description("Ask the browser extension to block distracting tabs. Default: true"),
		),
		mcp.WithString("reason",
			mcp.Description("Why focus mode is being started"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		body := map[string]any{"set_by": "mcp"}
		if v, ok := args["duration_minutes"].(float64); ok {
			body["duration_minutes"] = v
		}
		if v, ok := args["block_tabs"].(bool); ok {
			body["block_tabs"] = v
		}
		if v, ok := args["reason"].(string); ok {
			body["reason"] = v
		}
		return http.MethodPost, "/actions/focus/start", body, nil
	}))

	s.AddTool(mcp.NewTool("clr_focus_stop",
		mcp.WithDescription("Stop focus mode."),
	), c.proxy(post("/actions/focus/stop")))

	s.AddTool(mcp.NewTool("clr_focus_status",
		mcp.WithDescription("Focus mode state with elapsed and remaining minutes."),
	), c.proxy(get("/actions/focus")))

	s.AddTool(mcp.NewTool("clr_pomodoro_start",
		mcp.WithDescription("Start an adaptive pomodoro cycle. The work block follows the current load unless work_minutes is given."),
		mcp.WithNumber("work_minutes",
			mcp.Description("Override the adaptive work block length"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		body := map[string]any{}
		if v, ok := args["work_minutes"].(float64); ok {
			body["work_minutes"] = v
		}
		return http.MethodPost, "/actions/pomodoro/start", body, nil
	}))

	s.AddTool(mcp.NewTool("clr_pomodoro_stop",
		mcp.WithDescription("Stop the pomodoro cycle and return to idle."),
	), c.proxy(post("/actions/pomodoro/stop")))

	s.AddTool(mcp.NewTool("clr_pomodoro_status",
		mcp.WithDescription("Current pomodoro phase, remaining seconds and completed sessions."),
	), c.proxy(get("/actions/pomodoro")))

	s.AddTool(mcp.NewTool("clr_tasks",
		mcp.WithDescription("Task queue in load-aware order, with the recommended work block length."),
	), c.proxy(get("/actions/tasks")))

	s.AddTool(mcp.NewTool("clr_task_add",
		mcp.WithDescription("Add a task to the queue."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Task title"),
		),
		mcp.WithString("difficulty",
			mcp.Description("easy | medium | hard | review. Default: medium"),
		),
		mcp.WithNumber("estimated_minutes",
			mcp.Description("Estimated minutes. Default: 25"),
		),
		mcp.WithString("id",
			mcp.Description("Task id. Generated when omitted"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		title, _ := args["title"].(string)
		if title == "" {
			return "", "", nil, fmt.Errorf("title is required")
		}
		body := map[string]any{"title": title}
		if v, ok := args["difficulty"].(string); ok && v != "" {
			body["difficulty"] = v
		}
		if v, ok := args["estimated_minutes"].(float64); ok {
			body["estimated_minutes"] = int(v)
		}
		if v, ok := args["id"].(string); ok && v != "" {
			body["id"] = v
		}
		return http.MethodPost, "/actions/tasks", body, nil
	}))

	s.AddTool(mcp.NewTool("clr_task_remove",
		mcp.WithDescription("Remove a task by id."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		id, _ := args["id"].(string)
		if id == "" {
			return "", "", nil, fmt.Errorf("id is required")
		}
		return http.MethodDelete, "/actions/tasks/" + url.PathEscape(id), nil, nil
	}))

	s.AddTool(mcp.NewTool("clr_task_complete",
		mcp.WithDescription("Mark the task at the head of the queue as done."),
	), c.proxy(post("/actions/tasks/complete")))

	s.AddTool(mcp.NewTool("clr_sessions",
		mcp.WithDescription("Work sessions detected in the timeline."),
		mcp.WithNumber("since_hours",
			mcp.Description("How many hours back to look. Default: 24"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		hours := 24.0
		if v, ok := args["since_hours"].(float64); ok && v > 0 {
			hours = v
		}
		since := time.Now().Add(-time.Duration(hours * float64(time.Hour))).Unix()
		return http.MethodGet, "/timeline/sessions?since=" + strconv.FormatInt(since, 10), nil, nil
	}))

	s.AddTool(mcp.NewTool("clr_daily_stats",
		mcp.WithDescription("Per-day load, session and focus statistics."),
		mcp.WithNumber("days",
			mcp.Description("Number of days. Default: 7"),
		),
	), c.proxy(func(args map[string]any) (string, string, any, error) {
		days := 7.0
		if v, ok := args["days"].(float64); ok && v > 0 {
			days = v
		}
		since := time.Now().Add(-time.Duration(days * 24 * float64(time.Hour))).Unix()
		return http.MethodGet, "/timeline/stats/daily?since=" + strconv.FormatInt(since, 10), nil, nil
	}))
}

func get(path string) request {
	return func(map[string]any) (string, string, any, error) {
		return http.MethodGet, path, nil, nil
	}
}

func post(path string) request {
	return func(map[string]any) (string, string, any, error) {
		return http.MethodPost, path, nil, nil
	}
}

// proxy turns a request builder into a tool handler that returns the API
// response as indented JSON
func (c *client) proxy(build request) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		method, path, body, err := build(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := c.do(ctx, method, path, body)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return mcp.NewToolResultText(string(data)), nil
		}
		return mcp.NewToolResultText(out.String()), nil
	}
}
