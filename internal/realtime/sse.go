package realtime

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeSSE 把一个 HTTP 请求变成 SSE 订阅。roomsOf 根据当前请求决定加入哪些房间。
func (h *Hub) ServeSSE(roomsOf func(c *gin.Context) []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.Connect(roomsOf(c)...)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": err.Error()})
			return
		}
		defer h.Disconnect(conn.ID)

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("ready", gin.H{"connection_id": conn.ID})
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case msg, ok := <-conn.Messages():
				if !ok {
					return false
				}
				c.SSEvent(msg.Name, msg.Payload)
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}
