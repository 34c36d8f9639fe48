package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// createGroup posts the initial registration, then opens the group socket,
// and returns the new group id. On any failure state stays empty and an
// already created group is deleted best-effort.
func (m *Manager) createGroup(ctx context.Context, body string) (string, error) {
	done := make(chan struct{})
	m.mu.Lock()
	m.creating = done
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.creating == done {
			m.creating = nil
		}
		m.mu.Unlock()
		close(done)
	}()

	resp, err := m.transport.Post(ctx, subscriptionPath, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGroupCreation, err)
	}

	wsURL, groupID, err := parseLocation(resp.HeaderValue("Location"), m.transport.BaseURL())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGroupCreation, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	conn, _, err := m.dialer.DialContext(startCtx, wsURL, m.transport.AuthHeader())
	if err != nil {
		m.deleteDetached(ctx, subscriptionPath+"/"+groupID)
		if ctx.Err() == nil && errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: after %s: %w", ErrStartupTimeout, m.cfg.StartupTimeout, err)
		}
		return "", fmt.Errorf("%w: dialing %s: %w", ErrGroupCreation, wsURL, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.groupID = groupID
	m.state = socketOpen
	logger := m.logger
	m.mu.Unlock()

	logger.Info("subscription group created", "group", groupID, "url", wsURL)

	go m.readLoop(conn)
	return groupID, nil
}

// parseLocation derives the socket URL and group id from a group Location
// header. The id is the path suffix after "poll/".
func parseLocation(location string, base *url.URL) (string, string, error) {
	if location == "" {
		return "", "", fmt.Errorf("%w: empty Location header", ErrInvalidLocation)
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidLocation, location)
	}

	_, id, found := strings.Cut(u.Path, "poll/")
	id = strings.Trim(id, "/")
	if !found || id == "" {
		return "", "", fmt.Errorf("%w: no group id in %q", ErrInvalidLocation, location)
	}

	return u.String(), id, nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.socketClosed(conn, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		items, err := decodeFrame(data)
		if err != nil {
			m.log().Warn("dropping notification frame", "error", err)
			continue
		}
		for _, it := range items {
			m.dispatch(it)
		}
	}
}

// dispatch delivers one event to every subscriber of its resource. The
// subscriber set is snapshotted so callbacks run without the lock held.
func (m *Manager) dispatch(it item) {
	res := normalizeResource(it.resource)

	m.mu.Lock()
	set := slices.Clone(m.subs[res])
	observer := m.observer
	logger := m.logger
	m.mu.Unlock()

	if len(set) == 0 {
		logger.Debug("event for unregistered resource", "resource", res)
	}
	for _, s := range set {
		s.OnChanged(maps.Clone(it.event))
	}
	if observer != nil {
		observer(res, it.event, len(set))
	}
}

// socketClosed handles the end of a reader. A close with resources still
// registered is an anomaly: local state is cleared and the group deleted
// best-effort, outside the operation queue.
func (m *Manager) socketClosed(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	remaining := len(m.subs)
	groupID := m.groupID
	m.conn = nil
	m.state = socketNone
	m.groupID = ""
	if remaining > 0 {
		m.subs = make(map[string][]Subscribable)
	}
	logger := m.logger
	m.mu.Unlock()

	_ = conn.Close()

	if remaining == 0 {
		logger.Debug("subscription socket closed", "group", groupID)
		return
	}

	logger.Error("subscription socket closed with active resources",
		"group", groupID,
		"resources", remaining,
		"error", cause,
	)
	if groupID != "" {
		m.deleteDetached(context.Background(), subscriptionPath+"/"+groupID)
	}
}

// closeConn sends a close frame and tears the connection down after the
// grace period if the peer has not completed the handshake by then.
func (m *Manager) closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.cfg.CloseGrace)); err != nil {
		_ = conn.Close()
		return
	}
	time.AfterFunc(m.cfg.CloseGrace, func() { _ = conn.Close() })
}

// awaitSocketClosed polls a closing socket until its reader has finished,
// forcing it closed once the attempts run out.
func (m *Manager) awaitSocketClosed(ctx context.Context) error {
	for i := 0; i < m.cfg.ClosePollAttempts; i++ {
		m.mu.Lock()
		closing := m.state == socketClosing
		m.mu.Unlock()
		if !closing {
			return nil
		}

		select {
		case <-time.After(m.cfg.ClosePollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if m.state != socketClosing {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.conn = nil
	m.state = socketNone
	m.groupID = ""
	logger := m.logger
	m.mu.Unlock()

	logger.Warn("closing socket did not finish, forcing close")
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}
