package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat"
	"github.com/jianluochat/jianluochat-sdk-go/jianluochat/rest"
)

const defaultPageSize = 50

// DefaultTypingTTL bounds how long a typing indicator survives without a
// refresh. A client that crashes mid-compose never sends the stop signal, so
// indicators expire on read.
const DefaultTypingTTL = 10 * time.Second

// Store is the single source of truth for rooms and messages. All cache
// mutation happens inside its methods; consumers read through the copying
// accessors. Construct one per session and Close it when the session ends.
type Store struct {
	api    *rest.Client
	logger jianluochat.Logger

	mu            sync.Mutex
	rooms         []Room
	messages      map[string][]Message
	currentRoomID string
	online        map[string]struct{}
	typing        map[string]map[string]time.Time
	loading       bool
	lastErr       string

	// fetchGen strands in-flight history fetches for rooms that were
	// left before the response arrived.
	fetchGen map[string]uint64

	typingTTL time.Duration
	selfUser  string
	now       func() time.Time

	transport *jianluochat.Client
	subs      []jianluochat.Subscription
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l jianluochat.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTypingTTL overrides how long typing indicators stay visible without a refresh.
func WithTypingTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.typingTTL = ttl
		}
	}
}

// WithSelfUser sets the sender recorded on optimistic placeholders.
func WithSelfUser(user string) Option {
	return func(s *Store) {
		if user != "" {
			s.selfUser = user
		}
	}
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a chat state store backed by the given API client.
func New(api *rest.Client, opts ...Option) *Store {
	s := &Store{
		api:       api,
		logger:    jianluochat.NopLogger(),
		messages:  make(map[string][]Message),
		online:    make(map[string]struct{}),
		typing:    make(map[string]map[string]time.Time),
		fetchGen:  make(map[string]uint64),
		typingTTL: DefaultTypingTTL,
		selfUser:  "me",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind subscribes the store to a transport's inbound events so live frames
// flow into the cache. Close (or Unbind) releases the subscriptions.
func (s *Store) Bind(t *jianluochat.Client) {
	s.Unbind()
	s.transport = t
	s.subs = append(s.subs,
		t.OnMessage(func(ev jianluochat.MessageEvent) { s.AddMessage(liveMessage(ev)) }),
		t.OnWorldMessage(func(ev jianluochat.MessageEvent) { s.AddMessage(liveMessage(ev)) }),
		t.OnTyping(func(ev jianluochat.TypingEvent) { s.SetTyping(ev.RoomID, ev.UserID, ev.IsTyping) }),
	)
}

// Unbind releases the transport subscriptions, if any.
func (s *Store) Unbind() {
	if s.transport == nil {
		return
	}
	for _, sub := range s.subs {
		s.transport.Off(sub)
	}
	s.subs = nil
	s.transport = nil
}

// Close tears the store down. The cache stays readable afterwards but no
// longer receives live updates.
func (s *Store) Close() { s.Unbind() }

func liveMessage(ev jianluochat.MessageEvent) Message {
	return Message{
		ID:        ev.ID,
		RoomID:    ev.RoomID,
		Sender:    ev.Sender,
		Content:   ev.Content,
		Type:      MessageText,
		Timestamp: ev.Timestamp,
		Status:    StatusDelivered,
	}
}

// Actions

// FetchRooms replaces the room list with the server's current list. On
// failure the previous list is left untouched and the error is recorded.
func (s *Store) FetchRooms(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()

	infos, err := s.api.ListRooms(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.lastErr = "failed to fetch rooms"
		return err
	}

	rooms := make([]Room, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, roomFromInfo(info))
	}
	s.rooms = rooms
	// the current room never shows unread messages
	if r := s.roomLocked(s.currentRoomID); r != nil {
		r.UnreadCount = 0
	}
	return nil
}

// FetchMessages loads a page of history for a room. With a before cursor the
// page is prepended to the cached list (older-message pagination); without
// one it replaces the cache. Messages already cached are never duplicated.
func (s *Store) FetchMessages(ctx context.Context, roomID string, limit int, before string) error {
	if limit <= 0 {
		limit = defaultPageSize
	}

	s.mu.Lock()
	gen := s.fetchGen[roomID]
	s.mu.Unlock()

	infos, err := s.api.GetMessages(ctx, roomID, limit, before)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = "failed to fetch messages"
		return err
	}
	if s.fetchGen[roomID] != gen {
		// the room was left while the request was in flight
		s.logger.Debug("discarding stale history fetch", map[string]any{"room": roomID})
		return nil
	}

	page := make([]Message, 0, len(infos))
	for _, info := range infos {
		page = append(page, messageFromInfo(info))
	}

	if before != "" {
		s.messages[roomID] = mergeUnique(page, s.messages[roomID])
	} else {
		s.messages[roomID] = mergeUnique(page, nil)
	}
	return nil
}

// mergeUnique prepends page to existing, dropping page entries whose ID is
// already cached and de-duplicating within the page itself.
func mergeUnique(page, existing []Message) []Message {
	seen := make(map[string]struct{}, len(existing)+len(page))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	merged := make([]Message, 0, len(page)+len(existing))
	for _, m := range page {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	return append(merged, existing...)
}

// SendMessage performs the optimistic-send protocol: a placeholder with a
// temporary ID and status "sending" lands in the cache immediately; the
// network round-trip then either swaps it for the server-confirmed message or
// flips it to "failed" in place so the user can see and retry it.
func (s *Store) SendMessage(ctx context.Context, roomID, content string, mt MessageType) error {
	if mt == "" {
		mt = MessageText
	}
	tempID := TempIDPrefix + uuid.NewString()
	placeholder := Message{
		ID:        tempID,
		RoomID:    roomID,
		Sender:    s.selfUser,
		Content:   content,
		Type:      mt,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Status:    StatusSending,
	}

	s.mu.Lock()
	s.messages[roomID] = append(s.messages[roomID], placeholder)
	s.mu.Unlock()

	info, err := s.api.SendMessage(ctx, roomID, rest.SendMessageRequest{
		Content:     content,
		MessageType: string(mt),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setStatusLocked(roomID, tempID, StatusFailed)
		s.lastErr = "failed to send message"
		return err
	}

	confirmed := messageFromInfo(*info)
	confirmed.Status = StatusSent
	s.replaceLocked(roomID, tempID, confirmed)
	if r := s.roomLocked(roomID); r != nil {
		m := confirmed
		r.LastMessage = &m
	}
	return nil
}

// CreateRoom creates a room server-side and puts it at the front of the cache.
func (s *Store) CreateRoom(ctx context.Context, name string, rt RoomType, members []string) (*Room, error) {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()

	info, err := s.api.CreateRoom(ctx, rest.CreateRoomRequest{
		Name:    name,
		Type:    rest.RoomType(rt),
		Members: members,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.lastErr = "failed to create room"
		return nil, err
	}
	room := roomFromInfo(*info)
	s.rooms = append([]Room{room}, s.rooms...)
	out := room
	return &out, nil
}

// JoinRoom joins server-side, then refreshes the whole room list rather than
// patching locally. The staleness window is accepted for simplicity.
func (s *Store) JoinRoom(ctx context.Context, roomID string) error {
	if err := s.api.JoinRoom(ctx, roomID); err != nil {
		s.mu.Lock()
		s.lastErr = "failed to join room"
		s.mu.Unlock()
		return err
	}
	return s.FetchRooms(ctx)
}

// LeaveRoom leaves server-side and evicts the room, its message cache and its
// typing state. An in-flight history fetch for the room is stranded by
// bumping its generation.
func (s *Store) LeaveRoom(ctx context.Context, roomID string) error {
	if err := s.api.LeaveRoom(ctx, roomID); err != nil {
		s.mu.Lock()
		s.lastErr = "failed to leave room"
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchGen[roomID]++
	for i, r := range s.rooms {
		if r.ID == roomID {
			s.rooms = append(s.rooms[:i:i], s.rooms[i+1:]...)
			break
		}
	}
	delete(s.messages, roomID)
	delete(s.typing, roomID)
	if s.currentRoomID == roomID {
		s.currentRoomID = ""
	}
	return nil
}

// SetCurrentRoom switches the active room ("" for none), zeroes its unread
// counter and lazily fetches its history on first visit.
func (s *Store) SetCurrentRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	s.currentRoomID = roomID
	needFetch := false
	if roomID != "" {
		if r := s.roomLocked(roomID); r != nil {
			r.UnreadCount = 0
		}
		_, cached := s.messages[roomID]
		needFetch = !cached
	}
	s.mu.Unlock()

	if needFetch {
		return s.FetchMessages(ctx, roomID, defaultPageSize, "")
	}
	return nil
}

// MarkRoomAsRead zeroes a room's unread counter.
func (s *Store) MarkRoomAsRead(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.roomLocked(roomID); r != nil {
		r.UnreadCount = 0
	}
}

// AddMessage merges an inbound message into the cache, updates the room's
// last message and increments its unread counter unless the room is current.
// Messages already cached under the same ID are ignored.
func (s *Store) AddMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[m.RoomID]
	for _, existing := range list {
		if existing.ID == m.ID {
			return
		}
	}
	s.messages[m.RoomID] = append(list, m)

	if r := s.roomLocked(m.RoomID); r != nil {
		mm := m
		r.LastMessage = &mm
		if m.RoomID != s.currentRoomID {
			r.UnreadCount++
		}
	}
}

// UpdateMessageStatus advances a message's delivery status. Transitions only
// move forward; regressions and skips are rejected.
func (s *Store) UpdateMessageStatus(messageID string, status MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, list := range s.messages {
		for i := range list {
			if list[i].ID != messageID {
				continue
			}
			if !list[i].Status.CanTransition(status) {
				s.logger.Warn("rejected message status transition", map[string]any{
					"message": messageID,
					"from":    string(list[i].Status),
					"to":      string(status),
				})
				return false
			}
			list[i].Status = status
			s.messages[roomID] = list
			return true
		}
	}
	return false
}

// SetTyping records that a user started or stopped composing in a room.
func (s *Store) SetTyping(roomID, userID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[roomID]
	if set == nil {
		set = make(map[string]time.Time)
		s.typing[roomID] = set
	}
	if isTyping {
		set[userID] = s.now()
	} else {
		delete(set, userID)
	}
}

// SetUserOnline marks a user as present.
func (s *Store) SetUserOnline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = struct{}{}
}

// SetUserOffline removes a user from the presence set.
func (s *Store) SetUserOffline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
}

// ClearError resets the recorded error string.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = ""
}

// Views

// Rooms returns the cached rooms in cache order.
func (s *Store) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Room(nil), s.rooms...)
}

// SortedRooms returns the rooms ordered by last-message time, newest first.
// Rooms without messages sort last.
func (s *Store) SortedRooms() []Room {
	rooms := s.Rooms()
	sort.SliceStable(rooms, func(i, j int) bool {
		return lastActivity(rooms[i]).After(lastActivity(rooms[j]))
	})
	return rooms
}

func lastActivity(r Room) time.Time {
	if r.LastMessage == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, r.LastMessage.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Room returns one room by ID.
func (s *Store) Room(roomID string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.roomLocked(roomID); r != nil {
		return *r, true
	}
	return Room{}, false
}

// Messages returns the cached messages of a room in presentation order.
func (s *Store) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[roomID]...)
}

// CurrentRoomID returns the active room's ID, or "".
func (s *Store) CurrentRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoomID
}

// CurrentRoom returns the active room, if any.
func (s *Store) CurrentRoom() (Room, bool) {
	s.mu.Lock()
	roomID := s.currentRoomID
	s.mu.Unlock()
	if roomID == "" {
		return Room{}, false
	}
	return s.Room(roomID)
}

// CurrentMessages returns the active room's cached messages.
func (s *Store) CurrentMessages() []Message {
	s.mu.Lock()
	roomID := s.currentRoomID
	s.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return s.Messages(roomID)
}

// Unread returns a room's unread counter.
func (s *Store) Unread(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.roomLocked(roomID); r != nil {
		return r.UnreadCount
	}
	return 0
}

// TotalUnread sums unread counters across all rooms.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.rooms {
		total += r.UnreadCount
	}
	return total
}

// TypingUsers returns who is composing in a room, sweeping indicators older
// than the TTL.
func (s *Store) TypingUsers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[roomID]
	if len(set) == 0 {
		return nil
	}
	cutoff := s.now().Add(-s.typingTTL)
	users := make([]string, 0, len(set))
	for user, at := range set {
		if at.Before(cutoff) {
			delete(set, user)
			continue
		}
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// OnlineUsers returns the current presence set.
func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.online))
	for u := range s.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Loading reports whether a room list operation is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded operation error string, "" when clear.
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// internal helpers, caller holds s.mu

func (s *Store) roomLocked(roomID string) *Room {
	if roomID == "" {
		return nil
	}
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			return &s.rooms[i]
		}
	}
	return nil
}

func (s *Store) setStatusLocked(roomID, messageID string, status MessageStatus) {
	list := s.messages[roomID]
	for i := range list {
		if list[i].ID == messageID {
			list[i].Status = status
			s.messages[roomID] = list
			return
		}
	}
}

func (s *Store) replaceLocked(roomID, messageID string, replacement Message) {
	list := s.messages[roomID]
	for i := range list {
		if list[i].ID == messageID {
			list[i] = replacement
			s.messages[roomID] = list
			return
		}
	}
	// The placeholder vanished (room evicted mid-send); drop the confirmed
	// message rather than resurrect a cache entry for a room we left.
}
