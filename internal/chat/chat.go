// Package chat is a small multi-user chat room built on hypercube.
//
// Clients send "message" with a string to talk and "nickname" with a string
// to rename themselves. The room broadcasts:
//
//	memberJoin  "user1"
//	message     {"from":"user1","content":"hi"}
//	nickname    {"old":"user1","new":"milo"}
//	memberLeft  "milo"
package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-dev/hypercube/pkg/hypercube"
)

// Message is the payload of a broadcast "message" event.
type Message struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// Rename is the payload of a broadcast "nickname" event.
type Rename struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Nickname is the payload a client sends to rename itself.
type Nickname string

// Validate rejects blank nicknames.
func (n Nickname) Validate() error {
	if strings.TrimSpace(string(n)) == "" {
		return fmt.Errorf("nickname must not be blank")
	}
	return nil
}

// Room tracks the members of one chat scope.
type Room struct {
	scope  *hypercube.Scope
	logger *slog.Logger

	mu      sync.Mutex
	names   map[string]string
	counter int
}

// Register installs the chat handlers on sc. It must be called from the
// scope's setup function.
func Register(sc *hypercube.Scope, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	room := &Room{
		scope:  sc,
		logger: logger.With("component", "chat"),
		names:  make(map[string]string),
	}

	sc.OnOpen(room.join)
	hypercube.On(sc, "message", room.say)
	hypercube.On(sc, "nickname", room.rename)
	sc.OnClose(room.leave)
	return room
}

// Members returns the current nickname of every member.
func (r *Room) Members() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.names))
	for id, name := range r.names {
		out[id] = name
	}
	return out
}

func (r *Room) join(s *hypercube.Session) {
	r.mu.Lock()
	r.counter++
	name := fmt.Sprintf("user%d", r.counter)
	r.names[s.ID] = name
	r.mu.Unlock()

	r.logger.Debug("member joined", "session_id", s.ID, "nickname", name)
	r.broadcast("memberJoin", name)
}

func (r *Room) say(s *hypercube.Session, content string) {
	name, ok := r.name(s.ID)
	if !ok {
		return
	}
	r.broadcast("message", Message{From: name, Content: content})
}

func (r *Room) rename(s *hypercube.Session, nickname Nickname) {
	r.mu.Lock()
	old, ok := r.names[s.ID]
	if ok {
		r.names[s.ID] = string(nickname)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.broadcast("nickname", Rename{Old: old, New: string(nickname)})
}

func (r *Room) leave(id string) {
	name, ok := r.name(id)
	if !ok {
		return
	}
	r.broadcast("memberLeft", name)

	r.mu.Lock()
	delete(r.names, id)
	r.mu.Unlock()
	r.logger.Debug("member left", "session_id", id, "nickname", name)
}

func (r *Room) name(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[id]
	return name, ok
}

func (r *Room) broadcast(event string, data any) {
	if err := r.scope.Broadcast(event, data); err != nil {
		r.logger.Error("broadcast failed", "event", event, "error", err)
	}
}
