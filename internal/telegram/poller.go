package telegram

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/pkg/logger"
)

// UpdateHandler processes one inbound update to completion.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd *model.Update)
}

// Poller drives long-poll update delivery. Updates are handed to the handler
// one at a time, in order, so router state never needs cross-update locking.
type Poller struct {
	client  *Client
	handler UpdateHandler
	timeout time.Duration
	logger  *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a poller feeding the given handler.
func NewPoller(client *Client, handler UpdateHandler, timeout time.Duration, log *logger.Logger) *Poller {
	return &Poller{
		client:  client,
		handler: handler,
		timeout: timeout,
		logger:  log,
	}
}

// Start begins polling in a background goroutine. Any registered webhook is
// removed first, since the platform refuses getUpdates while one is set.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if err := p.client.DeleteWebhook(ctx); err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(pollCtx)

	return nil
}

// Stop cancels the poll loop and waits for it to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.running = false
		if p.done != nil {
			close(p.done)
		}
		p.mu.Unlock()
	}()

	var offset int64

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		default:
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for i := range updates {
			upd := &updates[i]
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			p.handler.HandleUpdate(ctx, upd)
		}
	}
}
