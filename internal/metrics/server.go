package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/ipset"
)

// BanLister gives read access to the persisted ban list.
type BanLister interface {
	CurrentBans() (*ipset.Set, error)
	Contains(addr netip.Addr) (bool, error)
}

// bansResponse is the /bans payload.
type bansResponse struct {
	Count   int      `json:"count"`
	Entries []string `json:"entries"`
}

// banStatusResponse is the /bans/{ip} payload.
type banStatusResponse struct {
	IP     string `json:"ip"`
	Banned bool   `json:"banned"`
}

// Server serves /metrics, /healthz, /bans and /bans/{ip}.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *log.Logger
}

// Handler builds the status router.
func Handler(gatherer prometheus.Gatherer, bans BanLister) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/bans", func(w http.ResponseWriter, _ *http.Request) {
		set, err := bans.CurrentBans()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		resp := bansResponse{Count: set.Len(), Entries: make([]string, 0, set.Len())}
		for _, p := range set.Entries() {
			if p.IsSingleIP() {
				resp.Entries = append(resp.Entries, p.Addr().String())
			} else {
				resp.Entries = append(resp.Entries, p.String())
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)
	r.HandleFunc("/bans/{ip}", func(w http.ResponseWriter, req *http.Request) {
		addr, err := netip.ParseAddr(mux.Vars(req)["ip"])
		if err != nil {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		addr = addr.Unmap()
		banned, err := bans.Contains(addr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(banStatusResponse{IP: addr.String(), Banned: banned})
	}).Methods(http.MethodGet)
	return r
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ status server stopped", "err", err)
		}
	}()
	logger.Info("📈 status server listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
