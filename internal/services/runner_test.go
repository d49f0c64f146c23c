// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/internal/config"
	"go.edgegate.dev/edgegate/internal/errors"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestRunnerStartStopLifecycle(t *testing.T) {
	r := NewRunner("test", blockUntilCancelled, nil)

	require.NoError(t, r.Start(context.Background()))
	require.True(t, r.Status().Running)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))
	require.False(t, r.Status().Running)
}

func TestRunnerDoubleStartConflicts(t *testing.T) {
	r := NewRunner("test", blockUntilCancelled, nil)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	err := r.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, errors.KindConflict, errors.GetKind(err))
}

func TestRunnerStatusCarriesExitError(t *testing.T) {
	failed := make(chan struct{})
	r := NewRunner("test", func(ctx context.Context) error {
		defer close(failed)
		return errors.New(errors.KindUnavailable, "bind failed")
	}, nil)

	require.NoError(t, r.Start(context.Background()))
	<-failed
	require.Eventually(t, func() bool {
		st := r.Status()
		return !st.Running && st.Error == "bind failed"
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerStopWithoutStartIsNoop(t *testing.T) {
	r := NewRunner("test", blockUntilCancelled, nil)
	require.NoError(t, r.Stop(context.Background()))
}

func TestRunnerReloadWithoutFuncReportsNoRestart(t *testing.T) {
	r := NewRunner("test", blockUntilCancelled, nil)
	restarted, err := r.Reload(&config.Config{})
	require.NoError(t, err)
	require.False(t, restarted)
}

func TestRunnerReloadDelegates(t *testing.T) {
	var got *config.Config
	r := NewRunner("test", blockUntilCancelled, func(cfg *config.Config) (bool, error) {
		got = cfg
		return true, nil
	})
	cfg := &config.Config{LogLevel: "debug"}
	restarted, err := r.Reload(cfg)
	require.NoError(t, err)
	require.True(t, restarted)
	require.Same(t, cfg, got)
}
