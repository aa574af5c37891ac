package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/app"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/logger"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "campusgate.sqlite")
	cfg.Cache.Redis.Enabled = false
	cfg.Maintenance.Enabled = false
	return cfg
}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	require.NoError(t, logger.Init("error"))
	return logger.WithModule("test")
}

func TestBootstrapRuntimeWiresStack(t *testing.T) {
	cfg := testConfig(t)
	log := testLogger(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.SessionSvc)
	require.NotNil(t, stack.AuditSvc)
	require.NotNil(t, stack.Router)
	require.Nil(t, stack.Redis)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrapRuntimeSeedsAdmin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Admin.Email = "admin@example.edu"
	cfg.Auth.Admin.Password = "bootstrap-password-1"
	cfg.Auth.Admin.Name = "Portal Admin"
	log := testLogger(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	var admin models.User
	require.NoError(t, stack.DB.First(&admin, "email = ?", "admin@example.edu").Error)
	require.Equal(t, models.RoleAdmin, admin.Role)
	require.True(t, admin.EmailVerified)
}

func TestBootstrapRuntimeStartsCleaner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.Enabled = true
	log := testLogger(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NotNil(t, stack.Cleaner)

	done := make(chan struct{})
	go func() {
		stack.Shutdown(context.Background(), log)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
