package http

import (
	"net/http"

	"github.com/vaelin/go-httpc/internal"
	ihttp "github.com/vaelin/go-httpc/internal/http"
)

type Client = internal.Client
type Header = http.Header
type Request = ihttp.Request
type PreparedRequest = ihttp.PreparedRequest
type Response = ihttp.Response

type Middleware = internal.Middleware
type RedirectPolicy = internal.RedirectPolicy

type ConnectError = internal.ConnectError
type SendError = internal.SendError
type ProtocolError = internal.ProtocolError
type RedirectError = internal.RedirectError
type BodyError = internal.BodyError
type TimeoutError = internal.TimeoutError

// Logging builds a zerolog-backed middleware for [Client.Use].
var Logging = internal.Logging
