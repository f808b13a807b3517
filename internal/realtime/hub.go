// Package realtime 维护连接与房间成员关系，并把事件推给在线连接。
// 投递是尽力而为：连接缓冲满时丢弃并计数，不阻塞发布方。
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"medsupply/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotStarted 在 Start 之前发布或建立连接时返回。
var ErrNotStarted = errors.New("realtime hub not started")

// ErrUnknownConn 连接不存在（已断开）。
var ErrUnknownConn = errors.New("realtime connection not found")

const (
	RoomAdmin     = "admin"
	RoomHospitals = "hospitals"

	defaultBuffer = 64
)

// Message 一条推送。Room 为空表示全局广播。
type Message struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Room    string `json:"room,omitempty"`
	Payload any    `json:"payload"`
}

// Conn 单个订阅连接。
type Conn struct {
	ID    string
	send  chan Message
	rooms map[string]struct{}
}

// Messages 返回只读投递通道；连接断开或 Hub 停止后关闭。
func (c *Conn) Messages() <-chan Message { return c.send }

// Observer 在每次成功广播后回调（出站镜像，如 Redis Stream）。
type Observer func(msg Message)

type Hub struct {
	log     *logrus.Logger
	metrics *metrics.Registry

	started atomic.Bool
	buffer  int

	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn

	observers []Observer
}

func NewHub(log *logrus.Logger, m *metrics.Registry) *Hub {
	return &Hub{
		log:     log,
		metrics: m,
		buffer:  defaultBuffer,
		conns:   make(map[string]*Conn),
		rooms:   make(map[string]map[string]*Conn),
	}
}

// Observe 注册广播观察者，需在 Start 之前调用。
func (h *Hub) Observe(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Start 重复调用无副作用。
func (h *Hub) Start() {
	if h.started.CompareAndSwap(false, true) {
		h.log.Info("realtime hub started")
	}
}

func (h *Hub) Started() bool { return h.started.Load() }

// Stop 关闭全部连接，之后的发布返回 ErrNotStarted。
func (h *Hub) Stop() {
	if !h.started.CompareAndSwap(true, false) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		close(c.send)
		delete(h.conns, id)
	}
	h.rooms = make(map[string]map[string]*Conn)
	h.metrics.HubConnections.Set(0)
	h.log.Info("realtime hub stopped")
}

// Connect 新建连接并加入给定房间。
func (h *Hub) Connect(rooms ...string) (*Conn, error) {
	if !h.started.Load() {
		return nil, ErrNotStarted
	}
	c := &Conn{
		ID:    uuid.NewString(),
		send:  make(chan Message, h.buffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	for _, r := range rooms {
		h.joinLocked(c, r)
	}
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.HubConnections.Set(float64(n))
	h.log.WithFields(logrus.Fields{"conn_id": c.ID, "rooms": rooms}).Debug("realtime connected")
	return c, nil
}

// Disconnect 断开并关闭投递通道，重复调用安全。
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		for r := range c.rooms {
			h.leaveLocked(c, r)
		}
		delete(h.conns, connID)
		close(c.send)
	}
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.metrics.HubConnections.Set(float64(n))
	}
}

func (h *Hub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	h.joinLocked(c, room)
	return nil
}

func (h *Hub) Leave(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	h.leaveLocked(c, room)
	return nil
}

func (h *Hub) joinLocked(c *Conn, room string) {
	if room == "" {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize 当前房间在线连接数。
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom 推送给房间内所有连接；房间为空不算错误。
func (h *Hub) BroadcastToRoom(room, name string, payload any) error {
	if room == "" {
		return errors.New("room is required")
	}
	return h.broadcast(Message{ID: uuid.NewString(), Name: name, Room: room, Payload: payload})
}

// BroadcastGlobal 推送给所有连接。
func (h *Hub) BroadcastGlobal(name string, payload any) error {
	return h.broadcast(Message{ID: uuid.NewString(), Name: name, Payload: payload})
}

func (h *Hub) broadcast(msg Message) error {
	if !h.started.Load() {
		return ErrNotStarted
	}
	h.mu.RLock()
	var targets map[string]*Conn
	if msg.Room == "" {
		targets = h.conns
	} else {
		targets = h.rooms[msg.Room]
	}
	dropped := 0
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}
	observers := h.observers
	h.mu.RUnlock()

	if dropped > 0 {
		h.metrics.DeliveryFailures.WithLabelValues("realtime").Add(float64(dropped))
		h.log.WithFields(logrus.Fields{"event": msg.Name, "room": msg.Room, "dropped": dropped}).
			Warn("realtime slow consumers, message dropped")
	}
	for _, o := range observers {
		o(msg)
	}
	return nil
}
