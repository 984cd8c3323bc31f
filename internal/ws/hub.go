package ws

import (
	"log/slog"
	"sync"

	"huddle/internal/auth"
	"huddle/internal/chat"
	"huddle/internal/live"
	"huddle/internal/models"
	"huddle/internal/presence"
	"huddle/internal/session"

	"github.com/google/uuid"
)

// Hub owns one reactive scope per connected user: the unread aggregator,
// the presence watch set, a feed subscription per conversation and the
// session-record watch that detects takeover by another device. Events fan
// out to the connection over a buffered channel.
type Hub struct {
	auth    *auth.AuthService
	chats   *chat.Service
	live    *live.Store
	tracker *presence.Tracker

	mu sync.RWMutex
	// userID -> connected client scope
	clients map[string]*client

	unsubscribe func()
}

type client struct {
	hub    *Hub
	userID string
	connID string
	// bearer token this connection authenticated with
	token string
	ch    chan models.ServerMessage

	mu    sync.Mutex
	feeds map[string]*live.Subscription
	// scope owns the membership and session-record subscriptions
	scope   *live.Scope
	agg     *chat.Aggregator
	watches *presence.WatchSet
	// session token observed at join time; a different non-empty token
	// appearing later means another device took the account over
	sessionID string
	closed    bool
}

func NewHub(authService *auth.AuthService, chats *chat.Service, liveStore *live.Store, tracker *presence.Tracker) *Hub {
	h := &Hub{
		auth:    authService,
		chats:   chats,
		live:    liveStore,
		tracker: tracker,
		clients: make(map[string]*client),
	}

	// Revoking the token a connection signed in with ends it. Other
	// revocations for the same account (a rejected login attempt
	// releasing its fresh token) must not touch the live connection. An
	// empty event token is an account-wide revocation.
	h.unsubscribe = authService.OnPrincipalChanged(func(ev auth.PrincipalEvent) {
		if ev.SignedIn {
			return
		}
		h.mu.Lock()
		cl := h.clients[ev.UserID]
		if cl == nil || (ev.Token != "" && ev.Token != cl.token) {
			h.mu.Unlock()
			return
		}
		delete(h.clients, ev.UserID)
		h.mu.Unlock()

		// When another device now holds the session record this revocation
		// is an eviction. The session watch may not have run yet, so the
		// notice is sent from here too; send and close are idempotent.
		if cl.displacedBy(h.sessionToken(ev.UserID)) {
			cl.send(models.ServerMessage{
				Type:   models.ServerMessageTypeEvicted,
				Notice: evictionNotice,
			})
			cl.close(false)
			return
		}
		cl.close(true)
	})

	return h
}

func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, cl := range clients {
		cl.close(false)
	}
}

// Join registers the user's connection and builds its reactive scope.
// A second connection for the same user replaces the first.
func (h *Hub) Join(userID, token string) chan models.ServerMessage {
	h.Leave(userID, nil)

	cl := &client{
		hub:    h,
		userID: userID,
		connID: uuid.NewString(),
		token:  token,
		ch:     make(chan models.ServerMessage, 100),
		feeds:  make(map[string]*live.Subscription),
		scope:  live.NewScope(),
	}

	h.mu.Lock()
	h.clients[userID] = cl
	h.mu.Unlock()

	cl.agg = chat.NewAggregator(userID, h.chats, h.live, func(conversationID string, count int) {
		cl.send(models.ServerMessage{
			Type:           models.ServerMessageTypeUnread,
			ConversationID: conversationID,
			Unread:         count,
		})
	})
	cl.watches = h.tracker.NewWatchSet(func(watchedID string, status models.Status) {
		cl.send(models.ServerMessage{
			Type:   models.ServerMessageTypePresence,
			UserID: watchedID,
			Status: status,
		})
	})

	// Online now, offline when this connection drops without a clean close.
	h.tracker.Connected(cl.connID, userID)

	cl.watchSession()

	// Membership rediffs on every republication; the initial list is
	// computed here because the path may not have been published yet.
	cl.scope.Add(h.live.Subscribe(chat.MembershipPath(userID), func(value any) {
		ids, ok := value.([]string)
		if !ok {
			return
		}
		cl.setConversations(ids)
	}))

	ids, err := h.chats.ConversationIDs(userID)
	if err != nil {
		slog.Error("failed to list conversations on join", "user_id", userID, "error", err)
	}
	cl.setConversations(ids)

	return cl.ch
}

// Leave tears the user's scope down and applies the connection's
// on-disconnect fallbacks (presence offline). ch identifies which
// connection is leaving: a connection unwinding after it was replaced or
// evicted must not tear down the client now registered for the user. A nil
// ch removes whichever client is current.
func (h *Hub) Leave(userID string, ch chan models.ServerMessage) {
	h.mu.Lock()
	cl := h.clients[userID]
	if cl == nil || (ch != nil && cl.ch != ch) {
		h.mu.Unlock()
		return
	}
	delete(h.clients, userID)
	h.mu.Unlock()
	cl.close(true)
}

// Dispatch handles one message from the user's websocket. Failures are
// logged and swallowed; the connection stays up.
func (h *Hub) Dispatch(userID string, msg models.ClientMessage) {
	h.mu.RLock()
	cl := h.clients[userID]
	h.mu.RUnlock()
	if cl == nil {
		return
	}

	var err error
	switch msg.Type {
	case models.ClientMessageTypeSend:
		var sender models.User
		sender, err = h.auth.GetUser(userID)
		if err == nil {
			_, err = h.chats.SendMessage(sender, msg.ConversationID, msg.Content, msg.Attachments)
		}
	case models.ClientMessageTypeFocus:
		cl.agg.Focus(msg.ConversationID)
	case models.ClientMessageTypeReact:
		_, err = h.chats.React(userID, msg.ConversationID, msg.Seq, msg.Emoji)
	case models.ClientMessageTypeRead:
		err = h.chats.MarkRead(userID, msg.ConversationID, []int64{msg.Seq})
	case models.ClientMessageTypeThread:
		var sender models.User
		sender, err = h.auth.GetUser(userID)
		if err == nil {
			_, err = h.chats.ReplyInThread(sender, msg.ConversationID, msg.ParentSeq, msg.Content)
		}
	}
	if err != nil {
		slog.Error("client message failed",
			"user_id", userID, "type", msg.Type, "conversation_id", msg.ConversationID, "error", err)
	}
}

// Connected reports whether the user currently has a live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[userID] != nil
}

const evictionNotice = "Your account was signed in on another device."

// sessionToken reads the account's current session record, or "".
func (h *Hub) sessionToken(userID string) string {
	if raw, ok := h.live.Get(session.Path(userID)); ok {
		if token, ok := raw.(string); ok {
			return token
		}
	}
	return ""
}

// displacedBy reports whether the observed session token belongs to a
// different device than the one this connection joined with. The first
// non-empty token seen becomes the baseline.
func (cl *client) displacedBy(token string) bool {
	if token == "" {
		return false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.sessionID == "" {
		cl.sessionID = token
		return false
	}
	return token != cl.sessionID
}

// watchSession subscribes to the account's session record. Seeing a
// non-empty token other than the one observed at join means another device
// claimed the account: the client gets an eviction notice and the
// connection's scope is torn down.
func (cl *client) watchSession() {
	cl.sessionID = cl.hub.sessionToken(cl.userID)

	watch := cl.hub.live.Subscribe(session.Path(cl.userID), func(value any) {
		token, _ := value.(string)
		if !cl.displacedBy(token) {
			return
		}
		cl.send(models.ServerMessage{
			Type:   models.ServerMessageTypeEvicted,
			Notice: evictionNotice,
		})
		cl.hub.mu.Lock()
		if cl.hub.clients[cl.userID] == cl {
			delete(cl.hub.clients, cl.userID)
		}
		cl.hub.mu.Unlock()
		// The winning device already flipped presence online; applying
		// this connection's offline fallback would clobber it.
		cl.close(false)
	})

	cl.scope.Add(watch)
}

// setConversations replaces the client's conversation set: the aggregator
// and the per-feed forwarders are rediffed and the roster is pushed.
func (cl *client) setConversations(ids []string) {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var stale []*live.Subscription
	for id, sub := range cl.feeds {
		if !wanted[id] {
			stale = append(stale, sub)
			delete(cl.feeds, id)
		}
	}
	var added []string
	for id := range wanted {
		if _, ok := cl.feeds[id]; !ok {
			added = append(added, id)
		}
	}
	cl.mu.Unlock()

	for _, sub := range stale {
		sub.Close()
	}
	for _, id := range added {
		conversationID := id
		sub := cl.hub.live.Subscribe(chat.FeedPath(conversationID), func(value any) {
			ev, ok := value.(chat.FeedEvent)
			if !ok {
				return
			}
			cl.send(models.ServerMessage{
				Type:           feedMessageType(ev.Type),
				ConversationID: conversationID,
				Messages:       []models.Message{ev.Message},
			})
		})
		cl.mu.Lock()
		if cl.closed || cl.feeds[conversationID] != nil {
			cl.mu.Unlock()
			sub.Close()
			continue
		}
		cl.feeds[conversationID] = sub
		cl.mu.Unlock()
	}

	cl.agg.SetMembership(ids)
	cl.watches.Update(cl.hub.rosterIDs())
	cl.send(models.ServerMessage{
		Type:          models.ServerMessageTypeRoster,
		Conversations: ids,
	})
}

func feedMessageType(t chat.FeedEventType) models.ServerMessageType {
	switch t {
	case chat.FeedEventUpdate:
		return models.ServerMessageTypeUpdate
	case chat.FeedEventThread:
		return models.ServerMessageTypeThread
	}
	return models.ServerMessageTypeMessages
}

// rosterIDs is the set of users whose presence every client watches.
func (h *Hub) rosterIDs() []string {
	users, err := h.auth.GetUsers()
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func (cl *client) send(msg models.ServerMessage) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return
	}
	select {
	case cl.ch <- msg:
	default:
		// Slow consumer; drop rather than block the publisher.
	}
}

func (cl *client) close(applyDisconnects bool) {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return
	}
	cl.closed = true
	feeds := cl.feeds
	cl.feeds = make(map[string]*live.Subscription)
	cl.mu.Unlock()

	for _, sub := range feeds {
		sub.Close()
	}
	cl.scope.Close()
	cl.agg.Close()
	cl.watches.Close()

	if applyDisconnects {
		cl.hub.live.Disconnect(cl.connID)
	} else {
		cl.hub.live.CancelDisconnects(cl.connID)
	}

	close(cl.ch)
}
