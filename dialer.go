package http

import (
	"github.com/vaelin/go-httpc/internal/dialer"
)

type Dialer = dialer.Dialer
type CoreDialer = dialer.CoreDialer

type ProxyConfig = dialer.ProxyConfig
type ProxyRules = dialer.ProxyRules
type ResolveConfig = dialer.ResolveConfig

var NewProxyRules = dialer.NewProxyRules
var ProxyFromEnvironment = dialer.FromEnvironment
