package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// homePage is served inline: the landing page is a single static
// document and a template engine would be dead weight.
const homePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>shortlink</title>
  <style>
    body { font-family: sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; }
    code { background: #f0f0f0; padding: 0.1rem 0.3rem; border-radius: 3px; }
  </style>
</head>
<body>
  <h1>shortlink</h1>
  <p>A URL shortening service.</p>
  <p>POST a JSON body <code>{"url": "https://example.com"}</code> to
  <code>/api/public/shorten</code> to get a short link.</p>
</body>
</html>
`

// Home handles GET /.
func Home(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(homePage))
}
