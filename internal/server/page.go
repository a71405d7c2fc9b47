package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/ahwlsqja/csrf-recovery/internal/common/middleware"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var orderPage = template.Must(template.New("orders").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="csrf-token" content="{{.Token}}">
<title>Orders</title>
</head>
<body>
<form method="post" action="/api/v1/orders">
<input type="hidden" name="_token" value="{{.Token}}">
<input type="text" name="item">
<input type="number" name="quantity" value="1">
<button type="submit">Order</button>
</form>
</body>
</html>
`))

// orderForm renders the order form with the session token embedded in the
// csrf-token meta tag and the hidden _token field.
func orderForm(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := session.FromContext(c)
		if !ok {
			c.Status(http.StatusUnauthorized)
			return
		}

		var buf bytes.Buffer
		if err := orderPage.Execute(&buf, struct{ Token string }{sess.CSRFToken}); err != nil {
			logger.Error("failed to render order form",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	}
}
