package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ HeaderSource = HeaderMap(nil)
	_ HeaderSource = HTTPHeader(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
