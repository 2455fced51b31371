package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Loggers is the resolved logging set for one process: the glog provider and
// root logger plus their go-job bridges.
type Loggers struct {
	Provider    glog.LoggerProvider
	Root        glog.Logger
	JobProvider job.LoggerProvider
	Job         job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	if resolvedLogger == nil {
		resolvedLogger = glog.Nop()
	}
	out := Loggers{Provider: resolvedProvider, Root: resolvedLogger}
	if resolvedProvider != nil {
		out.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	out.Job = job.GoLogger(resolvedLogger)
	return out
}

// Component returns the logger for a named component such as
// "webhooks.processor" or "inbound.webhook".
func (l Loggers) Component(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if l.Provider != nil && name != "" {
		if logger := l.Provider.GetLogger(name); logger != nil {
			return logger
		}
	}
	if l.Root != nil {
		return l.Root
	}
	return glog.Nop()
}
