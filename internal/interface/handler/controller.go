package handler

import (
	"context"
	"sync"
	"time"

	"offlinecache/internal/domain"
)

// ControllerState はページの制御状態を表す
type ControllerState struct {
	Controlled bool      `json:"controlled"`
	Released   bool      `json:"released"`
	ClaimedAt  time.Time `json:"claimed_at,omitempty"`
	ReleasedAt time.Time `json:"released_at,omitempty"`
}

// Controller は制御の取得と解放を記録し、待機中の呼び出し元へ通知する
type Controller struct {
	mu      sync.Mutex
	state   ControllerState
	claimed chan struct{}
	logger  domain.Logger
}

var _ domain.ClientController = (*Controller)(nil)

// NewController は新しいControllerインスタンスを作成
func NewController(logger domain.Logger) *Controller {
	return &Controller{
		claimed: make(chan struct{}),
		logger:  logger,
	}
}

// Claim は制御を取得し、Claimed を待っている呼び出し元を起こす
func (c *Controller) Claim(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Controlled {
		return nil
	}
	c.state.Controlled = true
	c.state.ClaimedAt = time.Now()
	close(c.claimed)

	c.logger.Info("Clients claimed", nil)
	return nil
}

// Release は登録を解除する
func (c *Controller) Release(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Controlled = false
	c.state.Released = true
	c.state.ReleasedAt = time.Now()

	c.logger.Info("Clients released", nil)
	return nil
}

// Claimed は制御が取得されると閉じるチャネルを返す
func (c *Controller) Claimed() <-chan struct{} {
	return c.claimed
}

// State は現在の状態を返す
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
