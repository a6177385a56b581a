package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/pkg/logger"
	"exam_portal_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	shardCount     = 32

	attemptChannel = "attempt_channel"
	snapshotType   = "ATTEMPT_SNAPSHOT"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// UserTopic 同一用户的其他标签页/设备订阅
func UserTopic(userID uint) string { return fmt.Sprintf("user:%d", userID) }

// ExamTopic 管理员监考订阅
func ExamTopic(examID string) string { return "exam:" + examID }

type Client struct {
	Hub     *AttemptHub
	Conn    *websocket.Conn
	Send    chan []byte
	Topic   string
	Limiter *rate.Limiter
}

// readPump 客户端只需保持心跳，上行消息被丢弃
func (c *Client) readPump() {
	defer func() {
		c.Hub.detach(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket unexpected close", zap.Error(err), zap.String("topic", c.Topic))
			}
			break
		}
		if !c.Limiter.Allow() {
			logger.Log.Debug("WebSocket client flooding", zap.String("topic", c.Topic))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type shard struct {
	topics map[string]map[*Client]struct{}
	mu     sync.RWMutex
}

// PubSubMessage 实例之间通过 redis 转发的快照
type PubSubMessage struct {
	Topics   []string         `json:"topics"`
	Snapshot attempt.Snapshot `json:"snapshot"`
}

// AttemptHub 推送答题快照：本机 websocket 客户端 + 多实例 redis 广播。
// 收到的快照同时回调 OnSnapshot，用于更新会话的服务端确认状态。
type AttemptHub struct {
	shards     [shardCount]*shard
	Redis      *redis.Client
	OnSnapshot func(attempt.Snapshot)
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewAttemptHub(rdb *redis.Client) *AttemptHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &AttemptHub{Redis: rdb, ctx: ctx, cancel: cancel}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{topics: make(map[string]map[*Client]struct{})}
	}
	return h
}

func (h *AttemptHub) getShard(topic string) *shard {
	f := fnv.New32a()
	f.Write([]byte(topic))
	return h.shards[f.Sum32()%shardCount]
}

func (h *AttemptHub) attach(c *Client) {
	s := h.getShard(c.Topic)
	s.mu.Lock()
	if s.topics[c.Topic] == nil {
		s.topics[c.Topic] = make(map[*Client]struct{})
	}
	s.topics[c.Topic][c] = struct{}{}
	s.mu.Unlock()
	monitoring.LiveConnections.Inc()
}

func (h *AttemptHub) detach(c *Client) {
	s := h.getShard(c.Topic)
	s.mu.Lock()
	defer s.mu.Unlock()
	clients, ok := s.topics[c.Topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; ok {
		delete(clients, c)
		close(c.Send)
		monitoring.LiveConnections.Dec()
	}
	if len(clients) == 0 {
		delete(s.topics, c.Topic)
	}
}

// Subscribers 某个主题当前的本地连接数
func (h *AttemptHub) Subscribers(topic string) int {
	s := h.getShard(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}

// Run 订阅其他实例的快照，直到 Stop
func (h *AttemptHub) Run() {
	if h.Redis == nil {
		return
	}
	pubsub := h.Redis.Subscribe(h.ctx, attemptChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var psMsg PubSubMessage
			if err := json.Unmarshal([]byte(msg.Payload), &psMsg); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			h.deliver(psMsg, false)
		}
	}
}

// Publish 实现 attempt.Publisher；没有 redis 时直接本地投递
func (h *AttemptHub) Publish(ctx context.Context, snap attempt.Snapshot) {
	psMsg := PubSubMessage{
		Topics:   []string{UserTopic(snap.UserID), ExamTopic(snap.ExamID)},
		Snapshot: snap,
	}
	if h.Redis == nil {
		h.deliver(psMsg, true)
		return
	}
	payload, err := json.Marshal(psMsg)
	if err != nil {
		logger.Log.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	if err := h.Redis.Publish(ctx, attemptChannel, payload).Err(); err != nil {
		logger.Log.Warn("Snapshot publish failed, delivering locally", zap.Error(err))
		h.deliver(psMsg, true)
	}
}

// deliver 本地投递时发布方可能仍持有会话锁，回调必须异步执行。
// 待确认的快照只交给回调（会话会忽略），websocket 客户端只收到已确认的写入。
func (h *AttemptHub) deliver(psMsg PubSubMessage, async bool) {
	if h.OnSnapshot != nil {
		if async {
			go h.OnSnapshot(psMsg.Snapshot)
		} else {
			h.OnSnapshot(psMsg.Snapshot)
		}
	}
	if psMsg.Snapshot.PendingWrites {
		return
	}
	payload, err := json.Marshal(WSMessage{Type: snapshotType, Data: psMsg.Snapshot})
	if err != nil {
		return
	}
	for _, topic := range psMsg.Topics {
		s := h.getShard(topic)
		s.mu.RLock()
		for c := range s.topics[topic] {
			select {
			case c.Send <- payload:
			default:
			}
		}
		s.mu.RUnlock()
	}
}

// Stop 关闭全部连接
func (h *AttemptHub) Stop() {
	h.cancel()
	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for topic, clients := range s.topics {
			for c := range clients {
				close(c.Send)
				closed++
			}
			delete(s.topics, topic)
		}
		s.mu.Unlock()
	}
	monitoring.LiveConnections.Set(0)
	logger.Log.Info("AttemptHub stopped", zap.Int("closedConnections", closed))
}

func ServeWs(hub *AttemptHub, w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.String("topic", topic))
		return
	}
	client := &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Topic:   topic,
		Limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	hub.attach(client)

	go client.writePump()
	go client.readPump()
}
