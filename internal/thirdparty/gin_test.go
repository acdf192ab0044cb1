package thirdparty

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"nhooyr.io/wsengine"
	"nhooyr.io/wsengine/internal/test/assert"
	"nhooyr.io/wsengine/internal/test/wstest"
	"nhooyr.io/wsengine/wsjson"
)

func TestGin(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/", func(ginCtx *gin.Context) {
		_, err := wsengine.Upgrade(ginCtx.Writer, ginCtx.Request, wsengine.HandlerFuncs{
			Text: func(c *wsengine.Conn, s string) {
				var v interface{}
				err := wsjson.Read(s, &v)
				if err != nil {
					c.Close(wsengine.StatusUnsupportedData, "expected json")
					return
				}
				wsjson.Write(c, v)
			},
		}, nil)
		if err != nil {
			t.Error(err)
		}
	})

	s := newServer(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	rec := wstest.NewRecorder()
	c, err := wsengine.Dial(ctx, s.URL, rec, nil)
	assert.Success(t, err)
	defer c.Close(wsengine.StatusInternalError, "")

	err = wsjson.Write(c, "hello")
	assert.Success(t, err)

	var v interface{}
	err = wsjson.Read(wstest.Next(t, rec.Texts), &v)
	assert.Success(t, err)
	assert.Equal(t, "read msg", "hello", v)

	err = c.SendText("{")
	assert.Success(t, err)
	assert.Equal(t, "close", wstest.Close{Code: wsengine.StatusUnsupportedData, Reason: "expected json"}, wstest.Next(t, rec.Closes))
}
