package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, requires []string, failures int) Dependency {
	return Dependency{
		Name:     name,
		Requires: requires,
		StartFunc: func(context.Context) error {
			if failures > 0 {
				failures--
				r.events = append(r.events, "fail "+name)
				return errors.New(name + " unavailable")
			}
			r.events = append(r.events, "start "+name)
			return nil
		},
		StopFunc: func(context.Context) error {
			r.events = append(r.events, "stop "+name)
			return nil
		},
	}
}

func TestStartup_StartsInDependencyOrder(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("migrations", []string{"postgres"}, 0))
	s.AddDependency(rec.dep("postgres", nil, 0))
	s.AddDependency(rec.dep("redis", nil, 0))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start postgres", "start migrations", "start redis"}, rec.events)

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop redis", "stop postgres", "stop migrations"}, rec.events)
	assert.Equal(t, StartupStatusStopped, s.Status("postgres"))
}

func TestStartup_Retries(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     bool
	}{
		{"recovers", 2, 3, false},
		{"gives up", 3, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := NewStartup(testLogger(), tt.maxAttempts).WithBackoffUnit(time.Millisecond)
			s.AddDependency(rec.dep("postgres", nil, tt.failures))

			err := s.Start(context.Background())
			if tt.wantErr {
				assert.ErrorContains(t, err, "startup failed after 3 attempts")
				assert.Equal(t, StartupStatusFailed, s.Status("postgres"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StartupStatusStarted, s.Status("postgres"))
		})
	}
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("migrations", []string{"postgres"}, 0))
	assert.ErrorContains(t, s.Start(context.Background()), "unknown dependency 'postgres'")

	s = NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("a", []string{"b"}, 0))
	s.AddDependency(rec.dep("b", []string{"a"}, 0))
	assert.ErrorContains(t, s.Start(context.Background()), "dependency cycle")
}
