package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/config"
	"github.com/adammck/rover/pkg/discovery"
	"github.com/adammck/rover/pkg/persister"
	"github.com/adammck/rover/pkg/registry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	consuldisc "github.com/adammck/rover/pkg/discovery/consul"
	consulpers "github.com/adammck/rover/pkg/persister/consul"
	consulapi "github.com/hashicorp/consul/api"
)

type Daemon struct {
	cfg config.Config

	srv  *grpc.Server
	disc discovery.Discoverable
	reg  *registry.Registry
	prom *prometheus.Registry
	http *http.Server
}

func New(cfg config.Config) (*Daemon, error) {
	var opts []grpc.ServerOption
	srv := grpc.NewServer(opts...)

	// Register reflection service, so client can introspect (for debugging).
	reflection.Register(srv)

	consul, err := consulapi.NewClient(consulapi.DefaultConfig())
	if err != nil {
		return nil, err
	}

	disc, err := consuldisc.New(discovery.RegistryService, cfg.PublicAddr(), consul, srv)
	if err != nil {
		return nil, err
	}

	var pers persister.Persister
	if cfg.Persist {
		pers = consulpers.New(consul, cfg.ConsulPrefix)
	}

	return build(cfg, srv, disc, pers)
}

// build wires up the daemon from its parts, so tests can swap out the ones
// which talk to Consul.
func build(cfg config.Config, srv *grpc.Server, disc discovery.Discoverable, pers persister.Persister) (*Daemon, error) {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ropts := []registry.Option{
		registry.WithCooldown(cfg.Cooldown.Duration),
		registry.WithRegisterer(prom),
	}

	// This loads the records from storage, so will fail if the persister (e.g.
	// Consul) isn't available.
	if pers != nil {
		ropts = append(ropts, registry.WithPersister(pers))
	}

	reg, err := registry.New(ropts...)
	if err != nil {
		return nil, err
	}

	reg.Register(srv)

	d := &Daemon{
		cfg:  cfg,
		srv:  srv,
		disc: disc,
		reg:  reg,
		prom: prom,
	}

	if cfg.DebugAddr != "" {
		d.http = &http.Server{
			Addr:              cfg.DebugAddr,
			Handler:           d.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

func (d *Daemon) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(d.prom, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/records", d.handleRecords).Methods("GET")
	r.HandleFunc("/records/{unit}", d.handleRecord).Methods("GET")
	return r
}

func (d *Daemon) handleRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := d.reg.Dump(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, recs)
}

// handleRecord reads from a dump rather than calling Lookup, so that poking at
// the debug endpoint doesn't get throttled.
func (d *Daemon) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := api.UnitID(mux.Vars(r)["unit"])

	recs, err := d.reg.Dump(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	for _, rec := range recs {
		if rec.Unit == id {
			writeJSON(w, rec)
			return
		}
	}

	http.Error(w, (&api.NotFoundError{Unit: id}).Error(), http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("error writing response")
	}
}

func (d *Daemon) Run(ctx context.Context) error {

	// For the gRPC server.
	lis, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return err
	}

	log.Info().Str("addr", d.cfg.Addr).Msg("listening")

	g, ctx := errgroup.WithContext(ctx)

	// The registry outlives the gRPC server, so that in-flight requests can be
	// answered while it drains. It's stopped last.
	rctx, rcancel := context.WithCancel(context.Background())
	defer rcancel()

	g.Go(func() error {
		err := d.reg.Run(rctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := d.srv.Serve(lis)
		if errors.Is(err, grpc.ErrServerStopped) {
			// Stopped before it started, if discovery failed.
			return nil
		}
		return err
	})

	if d.http != nil {
		g.Go(func() error {
			log.Info().Str("addr", d.cfg.DebugAddr).Msg("debug http listening")
			err := d.http.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Make the registry discoverable.
	err = d.disc.Start()
	if err != nil {
		d.stop(rcancel)
		return errors.Join(err, g.Wait())
	}

	// Block until context is cancelled (or something above failed), then
	// shut everything down.
	<-ctx.Done()

	// Remove ourselves from service discovery first, so that clients stop
	// being sent here.
	if err := d.disc.Stop(); err != nil {
		log.Warn().Err(err).Msg("error deregistering")
	}

	d.stop(rcancel)
	return g.Wait()
}

// stop shuts down the servers started by Run, and then the registry.
func (d *Daemon) stop(stopRegistry func()) {

	// Let in-flight incoming RPCs finish and then stop.
	d.srv.GracefulStop()

	if d.http != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.http.Shutdown(sctx)
	}

	stopRegistry()
}
