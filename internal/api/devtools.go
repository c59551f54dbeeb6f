package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// proxyDevtools bridges a client websocket to the browser's DevTools
// endpoint. Only available when the browser runs in a container, so
// operators can attach an inspector to a node that is otherwise
// unreachable.
func (s *Server) proxyDevtools(c *gin.Context) {
	devtoolsURL, ok := s.manager.DevtoolsWSURL()
	if !ok {
		c.JSON(404, gin.H{"error": "devtools proxy is only available in container mode"})
		return
	}

	clientConn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade devtools client", zap.Error(err))
		return
	}
	defer clientConn.Close()

	browserConn, _, err := websocket.DefaultDialer.Dial(devtoolsURL, nil)
	if err != nil {
		s.logger.Warn("failed to dial browser devtools", zap.Error(err))
		clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to connect to browser"))
		return
	}
	defer browserConn.Close()

	done := make(chan struct{})

	// Browser -> Client
	go func() {
		defer close(done)
		for {
			messageType, message, err := browserConn.ReadMessage()
			if err != nil {
				return
			}
			if err := clientConn.WriteMessage(messageType, message); err != nil {
				return
			}
		}
	}()

	// Client -> Browser
	go func() {
		for {
			messageType, message, err := clientConn.ReadMessage()
			if err != nil {
				browserConn.Close()
				return
			}
			if err := browserConn.WriteMessage(messageType, message); err != nil {
				return
			}
		}
	}()

	<-done
}
