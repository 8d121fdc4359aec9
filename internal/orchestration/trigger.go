package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
	"github.com/lmnhd/keyvex-sub008/internal/middleware"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// RoutePrefix is where the orchestration routes are mounted.
const RoutePrefix = "/api/ai/product-tool-creation-v2"

// ErrTriggerClosed is logged for work dispatched after shutdown began.
var ErrTriggerClosed = errors.New("trigger is shut down")

// HTTPTrigger dispatches work by posting to the service's own orchestration
// routes with the internal token. Posts are fire and forget and retried with
// backoff on transport errors and gateway statuses.
type HTTPTrigger struct {
	baseURL    string
	token      string
	client     *http.Client
	maxRetries uint64

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHTTPTrigger creates a trigger for the service at publicBaseURL. The
// client timeout must cover a full agent run.
func NewHTTPTrigger(publicBaseURL, internalToken string, client *http.Client) *HTTPTrigger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPTrigger{
		baseURL:    publicBaseURL + RoutePrefix,
		token:      internalToken,
		client:     client,
		maxRetries: 3,
		ctx:        ctx,
		cancel:     cancel,
	}
}

type jobRequest struct {
	JobID string `json:"jobId"`
}

func (t *HTTPTrigger) Step(_ context.Context, jobID string) {
	t.post(jobID, "step", "/orchestrate/step", jobRequest{JobID: jobID})
}

func (t *HTTPTrigger) Agent(_ context.Context, jobID string, agent tcc.AgentID) {
	t.post(jobID, "agent", "/agents/"+string(agent), jobRequest{JobID: jobID})
}

func (t *HTTPTrigger) CheckParallel(_ context.Context, jobID string) {
	t.post(jobID, "check_parallel", "/orchestrate/check-parallel-completion", jobRequest{JobID: jobID})
}

// statusError is a non-2xx reply from the orchestration routes.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *HTTPTrigger) post(jobID, kind, path string, payload any) {
	log := logging.ForJob(jobID, zap.String("path", path))
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("encode trigger payload", zap.Error(err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		log.Warn("dropping trigger", zap.Error(ErrTriggerClosed))
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		operation := func() error {
			return t.send(path, body)
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.maxRetries), t.ctx)
		notify := func(err error, wait time.Duration) {
			log.Warn("trigger failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		}
		err := backoff.RetryNotify(operation, b, notify)
		metrics.RecordTrigger(kind, err)
		if err != nil {
			log.Error("trigger failed", zap.Error(err))
		}
	}()
}

func (t *HTTPTrigger) send(path string, body []byte) error {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &statusError{status: resp.StatusCode, body: string(snippet)}
	if retryableStatus(resp.StatusCode) {
		return serr
	}
	return backoff.Permanent(serr)
}

// Close stops accepting triggers and waits for in-flight posts. When ctx
// ends first the posts are cancelled.
func (t *HTTPTrigger) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return drain(ctx, t.wg.Wait, t.cancel)
}

// InProcessTrigger runs work on a bounded pool inside the process, calling
// the orchestrator directly instead of going over HTTP.
type InProcessTrigger struct {
	orch  *Orchestrator
	group *errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	// pending counts dispatches waiting for a pool slot.
	pending sync.WaitGroup
}

// NewInProcessTrigger creates a pool of at most workers concurrent tasks.
func NewInProcessTrigger(orch *Orchestrator, workers int) *InProcessTrigger {
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcessTrigger{orch: orch, group: g, ctx: ctx, cancel: cancel}
}

func (t *InProcessTrigger) Step(_ context.Context, jobID string) {
	t.dispatch(jobID, "step", func(ctx context.Context) error {
		_, err := t.orch.RunStep(ctx, jobID)
		return err
	})
}

func (t *InProcessTrigger) Agent(_ context.Context, jobID string, agent tcc.AgentID) {
	t.dispatch(jobID, "agent", func(ctx context.Context) error {
		_, err := t.orch.RunAgent(ctx, jobID, agent, AgentOptions{})
		return err
	})
}

func (t *InProcessTrigger) CheckParallel(_ context.Context, jobID string) {
	t.dispatch(jobID, "check_parallel", func(ctx context.Context) error {
		_, err := t.orch.CheckParallel(ctx, jobID)
		return err
	})
}

// dispatch queues fn without blocking the caller. Tasks may dispatch more
// tasks, so waiting for a pool slot happens on a separate goroutine.
func (t *InProcessTrigger) dispatch(jobID, kind string, fn func(ctx context.Context) error) {
	log := logging.ForJob(jobID, zap.String("task", kind))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		log.Warn("dropping trigger", zap.Error(ErrTriggerClosed))
		return
	}
	t.pending.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.pending.Done()
		t.group.Go(func() error {
			err := fn(t.ctx)
			metrics.RecordTrigger(kind, err)
			if err != nil {
				log.Error("orchestration task failed", zap.Error(err))
			}
			return nil
		})
	}()
}

// Close stops accepting work and waits for queued and running tasks. When
// ctx ends first the running tasks are cancelled.
func (t *InProcessTrigger) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return drain(ctx, func() {
		t.pending.Wait()
		t.group.Wait()
	}, t.cancel)
}

func drain(ctx context.Context, wait func(), cancel context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
