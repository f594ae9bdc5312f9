package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/config"
	"github.com/adammck/rover/pkg/discovery/mock"
	"github.com/adammck/rover/pkg/test/fake_persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func setup(t *testing.T) *Daemon {
	cfg := config.Default()
	cfg.DebugAddr = "localhost:0"

	pers := fake_persister.NewFakePersister(api.Record{
		Unit:    "u1",
		Handle:  api.Handle{Unit: "u1", Host: "a"},
		Version: 3,
	})

	d, err := build(cfg, grpc.NewServer(), mock.New(), pers)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- d.reg.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-errs
	})

	return d
}

func get(t *testing.T, d *Daemon, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	d.http.Handler.ServeHTTP(rr, req)
	return rr
}

func TestDebugRecords(t *testing.T) {
	d := setup(t)
	require.NoError(t, d.reg.Update(context.Background(), api.Record{
		Unit:    "u2",
		Handle:  api.Handle{Unit: "u2", Host: "b"},
		Version: 1,
	}))

	rr := get(t, d, "/records")
	require.Equal(t, http.StatusOK, rr.Code)

	var recs []api.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, api.UnitID("u1"), recs[0].Unit)
	assert.Equal(t, api.Version(3), recs[0].Version)
	assert.Equal(t, api.HostID("b"), recs[1].Handle.Host)
}

func TestDebugRecord(t *testing.T) {
	d := setup(t)

	rr := get(t, d, "/records/u1")
	require.Equal(t, http.StatusOK, rr.Code)

	var rec api.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, api.Handle{Unit: "u1", Host: "a"}, rec.Handle)

	rr = get(t, d, "/records/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDebugMetrics(t *testing.T) {
	d := setup(t)

	_, err := d.reg.Lookup(context.Background(), "test", "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rr := get(t, d, "/metrics")
		return rr.Code == http.StatusOK &&
			strings.Contains(rr.Body.String(), `rover_registry_lookups_total{result="served"} 1`) &&
			strings.Contains(rr.Body.String(), "rover_registry_records 1")
	}, time.Second, 10*time.Millisecond)
}

var errConsulDown = errors.New("consul down")

type failingDiscovery struct {
	*mock.MockDiscovery
}

func (d *failingDiscovery) Start() error {
	return errConsulDown
}

func runDaemon(ctx context.Context, d *Daemon) chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- d.Run(ctx)
	}()
	return errs
}

func wait(t *testing.T, errs chan error) error {
	select {
	case err := <-errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func localConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DebugAddr = "127.0.0.1:0"
	return cfg
}

func TestRunShutdown(t *testing.T) {
	d, err := build(localConfig(), grpc.NewServer(), mock.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := runDaemon(ctx, d)

	require.NoError(t, d.reg.Update(context.Background(), api.Record{
		Unit:    "u1",
		Handle:  api.Handle{Unit: "u1", Host: "a"},
		Version: 1,
	}))

	cancel()
	assert.NoError(t, wait(t, errs))

	// The registry was stopped too.
	_, err = d.reg.Dump(context.Background())
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestRunDiscoveryFails(t *testing.T) {
	d, err := build(localConfig(), grpc.NewServer(), &failingDiscovery{mock.New()}, nil)
	require.NoError(t, err)

	// Returns without being cancelled, having stopped everything it started.
	err = wait(t, runDaemon(context.Background(), d))
	assert.ErrorIs(t, err, errConsulDown)

	_, err = d.reg.Dump(context.Background())
	assert.ErrorIs(t, err, api.ErrClosed)
}
