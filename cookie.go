package http

import (
	"github.com/vaelin/go-httpc/internal/cookiejar"
)

type Cookie = cookiejar.Cookie
type CookieJar = cookiejar.Jar
