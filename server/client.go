package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/convhub/convhub/job"
	"github.com/convhub/convhub/user"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Buffered outgoing messages per client
	sendBufferSize = 64
)

// Client is a single WebSocket connection watching zero or more jobs.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	server *HubServer
	send   chan []byte

	watchMu sync.Mutex
	watches map[string]*jobWatch

	closeOnce sync.Once
	done      chan struct{}
}

// jobWatch pairs a notifier subscription with the goroutine forwarding its
// updates to the client.
type jobWatch struct {
	sub *job.Subscription
}

// inboundMessage is what clients send over the socket.
type inboundMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

// outboundMessage is what the server pushes back.
type outboundMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`

	Status     job.Status         `json:"status,omitempty"`
	Taker      string             `json:"taker,omitempty"`
	Applicants []applicantProfile `json:"applicants,omitempty"`
}

// applicantProfile is an applicant entry enriched with profile fields for
// display, so watchers need no follow-up user lookups.
type applicantProfile struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	PictureRef string `json:"picture_ref,omitempty"`
	Status     string `json:"status"`
}

func newClient(conn *websocket.Conn, userID string, server *HubServer) *Client {
	return &Client{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		server:  server,
		send:    make(chan []byte, sendBufferSize),
		watches: make(map[string]*jobWatch),
		done:    make(chan struct{}),
	}
}

// close tears down all watches and stops the write pump. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.watchMu.Lock()
		for jobID, w := range c.watches {
			w.sub.Cancel()
			delete(c.watches, jobID)
		}
		c.watchMu.Unlock()
		close(c.done)
	})
}

// notifyDisconnect hands the client to the unregister loop, giving up if
// the server is already shutting down so an exiting pump never blocks.
func (c *Client) notifyDisconnect() {
	select {
	case c.server.unregister <- c:
	case <-c.server.ctx.Done():
	}
}

// readPump reads messages from the WebSocket connection and routes them.
func (c *Client) readPump() {
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warnw("Unexpected WebSocket close",
					"client_id", c.id,
					"error", err,
				)
			}
			return
		}
		c.routeMessage(raw)
	}
}

// writePump pushes queued messages and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) routeMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case "watch_job":
		c.watchJob(msg.JobID)
	case "unwatch_job":
		c.unwatchJob(msg.JobID)
	case "ping":
		c.enqueue(outboundMessage{Type: "pong"})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// watchJob subscribes the client to updates for jobID and sends the current
// applicant snapshot immediately, so the watcher starts from known state.
func (c *Client) watchJob(jobID string) {
	if jobID == "" {
		c.sendError("watch_job requires a job_id")
		return
	}

	j, err := c.server.store.Get(context.Background(), jobID)
	if err != nil {
		c.sendError("job not found: " + jobID)
		return
	}

	sub := c.server.notifier.Subscribe(jobID, c.id)

	c.watchMu.Lock()
	if prev, ok := c.watches[jobID]; ok {
		prev.sub.Cancel()
	}
	c.watches[jobID] = &jobWatch{sub: sub}
	c.watchMu.Unlock()

	go c.forwardUpdates(jobID, sub)

	c.server.logger.Debugw("Client watching job",
		"client_id", c.id,
		"job_id", jobID,
	)

	c.enqueue(c.applicantsUpdate(j))
}

func (c *Client) unwatchJob(jobID string) {
	c.watchMu.Lock()
	w, ok := c.watches[jobID]
	if ok {
		delete(c.watches, jobID)
	}
	c.watchMu.Unlock()

	if ok {
		w.sub.Cancel()
	}
}

// forwardUpdates relays notifier deliveries for one watch until the
// subscription channel closes.
func (c *Client) forwardUpdates(jobID string, sub *job.Subscription) {
	for {
		select {
		case <-c.done:
			return
		case j, ok := <-sub.C:
			if !ok {
				return
			}
			c.enqueue(c.applicantsUpdate(j))
		}
	}
}

// applicantsUpdate builds the push message for a refreshed job, resolving
// applicant profiles through the user store. Unknown users are skipped.
func (c *Client) applicantsUpdate(j *job.Job) outboundMessage {
	msg := outboundMessage{
		Type:       "applicants_update",
		JobID:      j.ID,
		Status:     j.Status,
		Taker:      j.Taker,
		Applicants: make([]applicantProfile, 0, len(j.Applicants)),
	}

	ids := make([]string, 0, len(j.Applicants))
	for _, a := range j.Applicants {
		ids = append(ids, a.UserID)
	}

	profiles, err := c.server.users.FetchApplicants(context.Background(), ids)
	if err != nil {
		c.server.logger.Errorw("Failed to resolve applicant profiles",
			"job_id", j.ID,
			"error", err,
		)
		profiles = nil
	}

	byID := make(map[string]*user.User, len(profiles))
	for _, u := range profiles {
		byID[u.ID] = u
	}

	for _, a := range j.Applicants {
		p := applicantProfile{UserID: a.UserID, Status: string(a.Status)}
		if u, ok := byID[a.UserID]; ok {
			p.Username = u.Username
			p.PictureRef = u.PictureRef
		}
		msg.Applicants = append(msg.Applicants, p)
	}
	return msg
}

func (c *Client) sendError(message string) {
	c.enqueue(outboundMessage{Type: "error", Message: message})
}

// enqueue marshals and queues a message without blocking. A client that
// cannot drain its send buffer is dropped rather than stalling the server.
func (c *Client) enqueue(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Errorw("Failed to marshal outbound message", "error", err)
		return
	}

	select {
	case c.send <- data:
	default:
		c.server.logger.Warnw("Client send buffer full, dropping message",
			"client_id", c.id,
			"type", msg.Type,
		)
	}
}
