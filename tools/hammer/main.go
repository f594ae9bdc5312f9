// Command hammer sends a steady, jittered stream of updates and lookups to one
// or more registries, and checks that lookups never go backwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/discovery"
	"github.com/adammck/rover/pkg/logging"
	"github.com/adammck/rover/pkg/registry"
	"github.com/lthibault/jitterbug"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	consuldisc "github.com/adammck/rover/pkg/discovery/consul"
	consulapi "github.com/hashicorp/consul/api"
)

type Stats struct {
	updates  uint64
	lookups  uint64
	stale    uint64
	failures uint64
}

func (s *Stats) Total() int {
	return int(atomic.LoadUint64(&s.updates) + atomic.LoadUint64(&s.lookups))
}

type ConfigQPS struct {
	Update uint `toml:"update"`
	Lookup uint `toml:"lookup"`
}

type ConfigWorker struct {
	Requester string    `toml:"requester"`
	Units     int       `toml:"units"`
	Hosts     []string  `toml:"hosts"`
	QPS       ConfigQPS `toml:"qps"`
}

type Config struct {
	Workers []ConfigWorker `toml:"workers"`
}

func Load(path string) Config {
	var c Config
	_, err := toml.DecodeFile(path, &c)
	if err != nil {
		exit(fmt.Errorf("toml.DecodeFile: %v", err))
	}

	return c
}

func main() {
	faddrs := flag.String("addr", "localhost:5100", "addresses to hammer (comma-separated)")
	fdiscover := flag.Bool("discover", false, "find registries via consul instead of -addr")
	fconfig := flag.String("config", "", "path to config")
	fduration := flag.Duration("duration", 0, "how long to run for (default: until interrupted)")
	flag.Parse()

	logging.Init("hammer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *fduration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *fduration)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
	}()

	if *fconfig == "" {
		exit(fmt.Errorf("required: -config"))
	}

	config := Load(*fconfig)

	addrs := strings.Split(*faddrs, ",")
	if *fdiscover {
		addrs = discover()
	}

	// Set up pool of clients, one per address
	clients := make([]*registry.Client, len(addrs))
	for i := range addrs {
		clients[i] = newClient(addrs[i])
	}

	t := time.Now()
	stats := Stats{}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range config.Workers {
		RunGroup(ctx, g, clients, &stats, w)
	}

	err := g.Wait()
	if err != nil {
		exit(err)
	}

	runTime := time.Since(t)

	fmt.Printf("Ran for %s\n", runTime)
	fmt.Printf("- Updates: %d (%d/s)\n", stats.updates, int(float64(stats.updates)/runTime.Seconds()))
	fmt.Printf("- Lookups: %d (%d/s)\n", stats.lookups, int(float64(stats.lookups)/runTime.Seconds()))
	fmt.Printf("- Stale: %d\n", stats.stale)
	fmt.Printf("- Failures: %d\n", stats.failures)
	fmt.Printf("- Total: %d (%d/s)\n", stats.Total(), int(float64(stats.Total())/runTime.Seconds()))

	if stats.stale > 0 {
		os.Exit(1)
	}
}

// discover returns the addresses of every registry registered in consul.
func discover() []string {
	client, err := consulapi.NewClient(consulapi.DefaultConfig())
	if err != nil {
		exit(err)
	}

	g := consuldisc.NewDiscoverer(client).Discover(discovery.RegistryService, nil, nil)
	defer g.Stop()

	rems, err := g.Get()
	if err != nil {
		exit(err)
	}
	if len(rems) == 0 {
		exit(fmt.Errorf("no registries found in consul"))
	}

	addrs := make([]string, len(rems))
	for i, r := range rems {
		addrs[i] = r.Addr()
	}

	log.Info().Strs("addrs", addrs).Msg("discovered registries")
	return addrs
}

func newClient(addr string) *registry.Client {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		exit(err)
	}

	return registry.NewClient(conn)
}

type Group struct {
	config  ConfigWorker
	clients []*registry.Client

	units []api.UnitID

	// The last version handed out for each unit.
	versions []uint64

	// The highest version of each unit which the registry has acknowledged.
	// Lookups which start after that must never return anything older.
	acked []uint64
}

// ack records that the registry has applied version v of unit i.
func (g *Group) ack(i int, v uint64) {
	for {
		cur := atomic.LoadUint64(&g.acked[i])
		if v <= cur || atomic.CompareAndSwapUint64(&g.acked[i], cur, v) {
			return
		}
	}
}

func RunGroup(ctx context.Context, eg *errgroup.Group, clients []*registry.Client, stats *Stats, w ConfigWorker) {
	if w.Units <= 0 {
		w.Units = 1
	}
	if len(w.Hosts) == 0 {
		w.Hosts = []string{"a", "b", "c"}
	}
	if w.Requester == "" {
		w.Requester = fmt.Sprintf("hammer-%d", rand.Int())
	}

	g := &Group{
		config:   w,
		clients:  clients,
		units:    make([]api.UnitID, w.Units),
		versions: make([]uint64, w.Units),
		acked:    make([]uint64, w.Units),
	}

	for i := range g.units {
		g.units[i] = api.NewUnitID()
	}

	// Update
	eg.Go(func() error {
		g.run(ctx, g.config.QPS.Update, func() {
			i := rand.Intn(len(g.units))
			v := atomic.AddUint64(&g.versions[i], 1)

			rec := api.Record{
				Unit: g.units[i],
				Handle: api.Handle{
					Unit: g.units[i],
					Host: api.HostID(g.config.Hosts[rand.Intn(len(g.config.Hosts))]),
				},
				Version: api.Version(v),
			}

			err := g.client().Update(ctx, rec)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("unit", rec.Unit.String()).Msg("update failed")
					atomic.AddUint64(&stats.failures, 1)
				}
				return
			}

			g.ack(i, v)
			atomic.AddUint64(&stats.updates, 1)
		})
		return nil
	})

	// Lookup
	eg.Go(func() error {
		g.run(ctx, g.config.QPS.Lookup, func() {
			i := rand.Intn(len(g.units))

			floor := atomic.LoadUint64(&g.acked[i])

			rec, err := g.client().Lookup(ctx, api.RequesterID(g.config.Requester), g.units[i])
			if err != nil {
				if api.IsNotFound(err) && floor == 0 {
					// Not written yet.
					return
				}
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("unit", g.units[i].String()).Msg("lookup failed")
					atomic.AddUint64(&stats.failures, 1)
				}
				return
			}

			if uint64(rec.Version) < floor {
				log.Error().Str("unit", rec.Unit.String()).Uint64("got", uint64(rec.Version)).Uint64("want", floor).Msg("stale lookup")
				atomic.AddUint64(&stats.stale, 1)
			}

			atomic.AddUint64(&stats.lookups, 1)
		})
		return nil
	})
}

func (g *Group) run(ctx context.Context, qps uint, f func()) {
	if qps == 0 {
		return
	}

	wg := sync.WaitGroup{}
	defer wg.Wait()

	nsInterval := int(1*time.Second) / int(qps)
	d := time.Duration(nsInterval)

	// Jitter by 10%
	ticker := jitterbug.New(d, &jitterbug.Norm{Stdev: d / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			wg.Add(1)
			go func() {
				f()
				wg.Done()
			}()
		}
	}
}

// client returns a random client to send a request via.
func (g *Group) client() *registry.Client {
	return g.clients[rand.Intn(len(g.clients))]
}

func exit(err error) {
	log.Fatal().Err(err).Msg("exiting")
}
