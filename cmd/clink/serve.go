package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"clink/internal/continuation"
	"clink/internal/orchestrator"
)

// serveRequest is one newline-delimited JSON request on stdin.
type serveRequest struct {
	Agent          string   `json:"agent"`
	Role           string   `json:"role,omitempty"`
	Task           string   `json:"task"`
	ContinuationID string   `json:"continuation_id,omitempty"`
	Files          []string `json:"files,omitempty"`
	Images         []string `json:"images,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// scanBufferSize bounds one request line; prompts travel inline.
const scanBufferSize = 4 << 20

// Run reads requests from stdin until EOF, one JSON object per line,
// and writes one result document per line. Agent configs hot-reload
// while serving. Requests run concurrently; each conversation still
// appends its turns in order.
func (c *ServeCmd) Run(a *app) error {
	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		err := a.registry.Watch(ctx, a.configPaths,
			func(agents int) { a.log.RegistryReloaded(agents) },
			func(err error) {
				a.log.Warn("config_reload_failed", map[string]interface{}{"error": err.Error()})
			})
		if err != nil {
			a.log.Warn("config_watch_unavailable", map[string]interface{}{"error": err.Error()})
		}
	}()

	if mem, ok := a.store.(*continuation.MemoryStore); ok {
		if err := mem.StartSweeper(10 * time.Minute); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	var encMu sync.Mutex
	emit := func(doc invocationOutput) {
		encMu.Lock()
		defer encMu.Unlock()
		enc.Encode(doc)
	}

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req serveRequest
		if err := json.Unmarshal(line, &req); err != nil {
			emit(renderError(fmt.Errorf("bad request: %w", err)))
			continue
		}

		wg.Add(1)
		go func(req serveRequest) {
			defer wg.Done()
			resp, err := a.orch.Invoke(ctx, orchestrator.Request{
				Agent:          req.Agent,
				Role:           req.Role,
				Task:           req.Task,
				ContinuationID: req.ContinuationID,
				FileRefs:       req.Files,
				ImageRefs:      req.Images,
				Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
			})
			if err != nil {
				emit(renderError(err))
				return
			}
			emit(renderResponse(resp))
		}(req)
	}

	wg.Wait()
	return scanner.Err()
}
