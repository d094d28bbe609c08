// Package api serves the status and metrics HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/netconf"
	"github.com/dnsproxy/dnsproxy/resolver"
)

// Resolver is the part of the resolver engine the API exposes.
type Resolver interface {
	Resolve(ctx context.Context, req *dns.Msg) (*dns.Msg, error)
	BadServers() []netip.AddrPort
	GoodServers() []netip.AddrPort
	TamperSignatures() []netip.Addr
	AddTamperSignature(addr netip.Addr) bool
}

// Monitor reports the managed interfaces.
type Monitor interface {
	Tracked() []netconf.Interface
}

// API type
type API struct {
	addr     string
	version  string
	router   *Router
	resolver Resolver
	monitor  Monitor
}

var debugpprof bool

func init() {
	_, debugpprof = os.LookupEnv("DNSPROXY_PPROF")
}

// New return new api. A nil monitor reports no interfaces.
func New(addr, version string, r Resolver, m Monitor) *API {
	a := &API{
		addr:     addr,
		version:  version,
		router:   NewRouter(),
		resolver: r,
		monitor:  m,
	}

	a.routes()

	return a
}

func (a *API) routes() {
	if debugpprof {
		profiler := a.router.Group("/debug")
		{
			profiler.GET("/pprof/", func(ctx *Context) { pprof.Index(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/cmdline", func(ctx *Context) { pprof.Cmdline(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/profile", func(ctx *Context) { pprof.Profile(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/symbol", func(ctx *Context) { pprof.Symbol(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/trace", func(ctx *Context) { pprof.Trace(ctx.Writer, ctx.Request) })
		}
	}

	v1 := a.router.Group("/api/v1")
	{
		v1.GET("/status", a.status)
		v1.GET("/signatures", a.signatures)
		v1.POST("/signatures/{addr}", a.addSignature)
		v1.GET("/resolve/{qname}/{qtype}", a.resolve)
	}

	a.router.GET("/metrics", a.metrics)
}

func (a *API) status(ctx *Context) {
	var ifaces []Json
	if a.monitor != nil {
		for _, iface := range a.monitor.Tracked() {
			ifaces = append(ifaces, Json{
				"id":     iface.ID(),
				"name":   iface.Name,
				"domain": iface.Domain,
			})
		}
	}

	ctx.JSON(http.StatusOK, Json{
		"version":    a.version,
		"bad":        servers(a.resolver.BadServers()),
		"good":       servers(a.resolver.GoodServers()),
		"signatures": addrs(a.resolver.TamperSignatures()),
		"interfaces": ifaces,
	})
}

func (a *API) signatures(ctx *Context) {
	ctx.JSON(http.StatusOK, Json{"signatures": addrs(a.resolver.TamperSignatures())})
}

func (a *API) addSignature(ctx *Context) {
	addr, err := netip.ParseAddr(ctx.Param("addr"))
	if err != nil {
		ctx.Error(http.StatusBadRequest, err)
		return
	}

	ctx.JSON(http.StatusOK, Json{"success": a.resolver.AddTamperSignature(addr)})
}

func (a *API) resolve(ctx *Context) {
	qtype, ok := dns.StringToType[strings.ToUpper(ctx.Param("qtype"))]
	if !ok {
		ctx.Error(http.StatusBadRequest, fmt.Errorf("unknown qtype %s", ctx.Param("qtype")))
		return
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(ctx.Param("qname")), qtype)
	req.RecursionDesired = true

	resp, err := a.resolver.Resolve(ctx.Request.Context(), req)
	if err != nil {
		var rerr *resolver.ResponseError
		if !errors.As(err, &rerr) || rerr.Response == nil {
			ctx.Error(http.StatusBadGateway, err)
			return
		}
		resp = rerr.Response
	}

	answers := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		answers = append(answers, rr.String())
	}

	ctx.JSON(http.StatusOK, Json{
		"question":  dnsutil.Question(req),
		"rcode":     dns.RcodeToString[resp.Rcode],
		"answers":   answers,
		"addresses": addrs(dnsutil.Addresses(resp)),
	})
}

func (a *API) metrics(ctx *Context) {
	promhttp.Handler().ServeHTTP(ctx.Writer, ctx.Request)
}

// Run API server
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed:", "error", err.Error())
		}
	}()
}

func servers(list []netip.AddrPort) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.String())
	}
	return out
}

func addrs(list []netip.Addr) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
