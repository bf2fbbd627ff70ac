// Package syncclient is the observer-side synchronization protocol: it
// subscribes to tasks over the push transport, reconciles snapshots with
// deltas, resubscribes after reconnects, and falls back to pull queries.
package syncclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/pkg/utils"
)

const (
	// reconnectAttempts bounds automatic retries; past that the client
	// surfaces an error and callers fall back to a pull query.
	reconnectAttempts = 5
	reconnectDelay    = 500 * time.Millisecond
	eventBuffer       = 64
)

// Client keeps a local, reconnect-safe view of subscribed tasks.
type Client struct {
	baseURL string
	dialer  *websocket.Dialer
	http    *resty.Client

	mu        sync.RWMutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	tasks     map[string]*model.Task
	interests map[string]struct{}

	events chan Event
	closed chan struct{}
	once   sync.Once
}

// New builds a client for a service at baseURL (e.g. "http://host:5344").
func New(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		dialer:    websocket.DefaultDialer,
		http:      resty.New().SetTimeout(15 * time.Second),
		tasks:     make(map[string]*model.Task),
		interests: make(map[string]struct{}),
		events:    make(chan Event, eventBuffer),
		closed:    make(chan struct{}),
	}
}

func (c *Client) wsURL() string {
	url := c.baseURL + "/api/ws"
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

// Connect opens the push transport and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to open push transport")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	return nil
}

// Events is the stream of reconciled updates. Only events that changed the
// local view (plus errors) are delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Task returns the locally held snapshot for id.
func (c *Client) Task(id string) (model.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.tasks[id]; ok {
		return t.Clone(), true
	}
	return model.Task{}, false
}

// SubscribeTask registers interest in a task. The server answers with the
// authoritative snapshot as a task_subscribed event.
func (c *Client) SubscribeTask(taskID string) error {
	c.mu.Lock()
	c.interests[taskID] = struct{}{}
	c.mu.Unlock()
	return c.send(model.ClientMessage{Action: model.ActionSubscribeTask, TaskID: taskID})
}

// UnsubscribeTask withdraws interest and drops the local snapshot.
func (c *Client) UnsubscribeTask(taskID string) error {
	c.mu.Lock()
	delete(c.interests, taskID)
	delete(c.tasks, taskID)
	c.mu.Unlock()
	return c.send(model.ClientMessage{Action: model.ActionUnsubscribeTask, TaskID: taskID})
}

// FetchTask performs the one-shot pull query and folds the result into the
// local view as an authoritative snapshot. Use it to learn terminal states
// for sure when push delivery was best-effort.
func (c *Client) FetchTask(ctx context.Context, taskID string) (model.Task, error) {
	var t model.Task
	var detail struct {
		Detail string `json:"detail"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&t).
		SetError(&detail).
		Get(c.baseURL + "/api/tasks/" + taskID)
	if err != nil {
		return model.Task{}, errors.Wrap(err, "pull query failed")
	}
	if resp.IsError() {
		return model.Task{}, errors.Errorf("pull query failed: %s", detail.Detail)
	}
	c.apply(Event{Type: EventSubscribed, TaskID: t.ID, Task: t})
	return t, nil
}

// Close tears the transport down for good; no reconnect is attempted.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) send(msg model.ClientMessage) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}
	data, err := utils.Json.Marshal(msg)
	if err != nil {
		return errors.WithStack(err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(conn.WriteMessage(websocket.TextMessage, data), "send failed")
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.reconnect()
			return
		}
		var msg model.ServerMessage
		if err := utils.Json.Unmarshal(data, &msg); err != nil {
			utils.Log.Debugf("syncclient: dropping undecodable message: %v", err)
			continue
		}
		ev, ok := eventFromMessage(msg)
		if !ok {
			continue
		}
		c.apply(ev)
	}
}

// apply reduces the event into the local view and forwards it when it
// changed something. Terminal events also end the interest in that task.
func (c *Client) apply(ev Event) {
	c.mu.Lock()
	next, changed := Reduce(c.tasks[ev.TaskID], ev)
	if changed {
		c.tasks[ev.TaskID] = next
	}
	if ev.Terminal() && changed {
		delete(c.interests, ev.TaskID)
	}
	c.mu.Unlock()
	if changed || ev.Type == EventError {
		c.deliver(ev)
	}
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	default:
		utils.Log.Debugf("syncclient: event buffer full, dropping %s for task %s", ev.Type, ev.TaskID)
	}
}

// reconnect redials a bounded number of times, then resubscribes every task
// of interest; subscriptions do not survive a connection replacement
// server-side. On permanent failure an error event is surfaced instead of
// retrying forever.
func (c *Client) reconnect() {
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
			if err != nil {
				return err
			}
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			c.mu.Lock()
			select {
			case <-c.closed:
				// Close won the race; the fresh conn must not outlive it.
				c.mu.Unlock()
				_ = conn.Close()
				return retry.Unrecoverable(errors.New("client closed"))
			default:
			}
			c.conn = conn
			c.mu.Unlock()
			return nil
		},
		retry.Attempts(reconnectAttempts),
		retry.Delay(reconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(error) bool {
			select {
			case <-c.closed:
				return false
			default:
				return true
			}
		}),
	)
	if err != nil {
		select {
		case <-c.closed:
		default:
			c.deliver(Event{Type: EventError, Err: "reconnect failed: " + err.Error()})
		}
		return
	}

	c.mu.RLock()
	conn := c.conn
	interests := make([]string, 0, len(c.interests))
	for id := range c.interests {
		interests = append(interests, id)
	}
	c.mu.RUnlock()

	go c.readLoop(conn)
	for _, id := range interests {
		if err := c.send(model.ClientMessage{Action: model.ActionSubscribeTask, TaskID: id}); err != nil {
			c.deliver(Event{Type: EventError, TaskID: id, Err: "resubscribe failed: " + err.Error()})
		}
	}
}
