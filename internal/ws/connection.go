package ws

import (
	"context"
	"errors"
	"sync"
)

// Outbound events queue here per connection; events beyond this are dropped
// rather than blocking the engine.
const serverEventBuffer = 64

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type connectionHub interface {
	Join(userID string, c *Conn)
	Leave(userID string, c *Conn)
	Dispatch(userID string, evt ClientEvent)
}

// Conn is one live realtime connection bound to an authenticated user. A
// user may hold several at once.
type Conn struct {
	ws         wsConnection
	hub        connectionHub
	userID     string
	fromClient chan ClientEvent
	fromServer chan Event
	errorCh    chan error
}

func NewConn(hub connectionHub, ws wsConnection, userID string) *Conn {
	c := &Conn{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		fromClient: make(chan ClientEvent),
		fromServer: make(chan Event, serverEventBuffer),
		errorCh:    make(chan error, 2),
	}
	hub.Join(userID, c)
	return c
}

// Deliver queues an event for the client without blocking. Reports false
// when the outbound buffer is full and the event was dropped.
func (c *Conn) Deliver(evt Event) bool {
	select {
	case c.fromServer <- evt:
		return true
	default:
		return false
	}
}

// Handle runs the connection until the client disconnects or ctx is
// cancelled. Leaving the hub is part of shutdown, so a closed connection is
// immediately unregistered from presence.
func (c *Conn) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
		// A loop error may have raced with cancellation; prefer it over a
		// silent shutdown so the caller sees why the connection died.
		select {
		case err = <-c.errorCh:
		default:
		}
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Conn) pumpEvents(ctx context.Context) error {
	for {
		var evt ClientEvent
		if err := c.ws.ReadJSON(&evt); err != nil {
			return err
		}
		select {
		case c.fromClient <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) mainLoop(ctx context.Context) error {
	for {
		select {
		case evt := <-c.fromClient:
			c.hub.Dispatch(c.userID, evt)
		case evt := <-c.fromServer:
			if err := c.ws.WriteJSON(evt); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
