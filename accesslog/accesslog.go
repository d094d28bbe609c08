// Package accesslog logs server events.
package accesslog

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/server"
)

// AccessLog type
type AccessLog struct {
	mu      sync.Mutex
	logFile *os.File

	now func() time.Time
}

// New returns a new AccessLog. Responses are written to the file at path;
// an empty path only logs events.
func New(path string) *AccessLog {
	a := &AccessLog{now: time.Now}

	if path != "" {
		logFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "error", strings.Trim(err.Error(), "\n"))
		} else {
			a.logFile = logFile
		}
	}

	return a
}

// Observe implements server.Observer.
func (a *AccessLog) Observe(e server.Event) {
	switch e := e.(type) {
	case server.Listening:
		zlog.Info("DNS proxy ready", "addr", e.Addr.String())

	case server.Requested:
		zlog.Debug("DNS request", "client", e.Remote.String(), "question", dnsutil.Question(e.Request))

	case server.Responded:
		zlog.Debug("DNS response", "client", e.Remote.String(), "question", dnsutil.Question(e.Request),
			"rcode", dns.RcodeToString[e.Response.Rcode], "answers", len(e.Response.Answer))
		a.write(e)

	case server.Errored:
		if errors.Is(e.Err, server.ErrMalformed) {
			zlog.Debug("DNS request dropped", "client", e.Remote.String(), "error", e.Err.Error())
			return
		}
		zlog.Warn("DNS server error", "client", e.Remote.String(), "error", e.Err.Error())
	}
}

func (a *AccessLog) write(e server.Responded) {
	if a.logFile == nil || len(e.Response.Question) == 0 {
		return
	}

	cd := "-cd"
	if e.Response.CheckingDisabled {
		cd = "+cd"
	}

	record := []string{
		e.Remote.Addr().Unmap().String() + " -",
		"[" + a.now().Format("02/Jan/2006:15:04:05 -0700") + "]",
		"\"" + dnsutil.FormatQuestion(e.Response.Question[0]) + "\"",
		"udp",
		cd,
		dns.RcodeToString[e.Response.Rcode],
		strconv.Itoa(e.Response.Len()),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.logFile.WriteString(strings.Join(record, " ") + "\n"); err != nil {
		zlog.Error("Access log write failed", "error", strings.Trim(err.Error(), "\n"))
	}
}

// Close closes the log file.
func (a *AccessLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.logFile == nil {
		return nil
	}

	err := a.logFile.Close()
	a.logFile = nil

	return err
}
