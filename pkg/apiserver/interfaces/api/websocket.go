package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/interfaces/api/middleware"
	"ordermesh/pkg/apiserver/realtime"
)

type websocketAPI struct {
	Hub      *realtime.Hub            `inject:""`
	Verifier middleware.TokenVerifier `inject:""`
}

// NewWebsocket new websocket endpoint
func NewWebsocket() Interface {
	return &websocketAPI{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (w *websocketAPI) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/ws", w.serve)
}

// serve authenticates the caller and hands the upgraded connection to the
// hub. Unauthenticated upgrades are refused before any frame is exchanged.
func (w *websocketAPI) serve(c *gin.Context) {
	userID, err := w.Verifier.Verify(c.Request.Context(), middleware.BearerToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.Errorf("upgrade websocket for user %s: %v", userID, err)
		return
	}
	w.Hub.HandleConn(c.Request.Context(), ws, userID)
}
