package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/kamui-project/kamui-auth/internal/api"
	"github.com/kamui-project/kamui-auth/internal/di"
	iface "github.com/kamui-project/kamui-auth/internal/service/interface"
)

// MockAuthService is a mock implementation of iface.AuthService
type MockAuthService struct {
	LoginFunc               func(ctx context.Context) error
	LogoutFunc              func(ctx context.Context) error
	IsLoggedInFunc          func() bool
	StatusFunc              func(ctx context.Context) (*iface.Status, error)
	GetAccessTokenFunc      func(ctx context.Context) (string, error)
	EnsureAuthenticatedFunc func(ctx context.Context) error
	RefreshFunc             func(ctx context.Context, reset bool) (*iface.RefreshResult, error)
	WatchFunc               func(ctx context.Context) error
	WhoAmIFunc              func(ctx context.Context) (*api.User, error)
}

func (m *MockAuthService) Login(ctx context.Context) error {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) IsLoggedIn() bool {
	if m.IsLoggedInFunc != nil {
		return m.IsLoggedInFunc()
	}
	return true
}

func (m *MockAuthService) Status(ctx context.Context) (*iface.Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &iface.Status{}, nil
}

func (m *MockAuthService) GetAccessToken(ctx context.Context) (string, error) {
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx)
	}
	return "test-token", nil
}

func (m *MockAuthService) EnsureAuthenticated(ctx context.Context) error {
	if m.EnsureAuthenticatedFunc != nil {
		return m.EnsureAuthenticatedFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) Refresh(ctx context.Context, reset bool) (*iface.RefreshResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, reset)
	}
	return &iface.RefreshResult{Outcome: "unchanged"}, nil
}

func (m *MockAuthService) Watch(ctx context.Context) error {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) WhoAmI(ctx context.Context) (*api.User, error) {
	if m.WhoAmIFunc != nil {
		return m.WhoAmIFunc(ctx)
	}
	return &api.User{}, nil
}

// executeCommand runs the CLI against mockAuth and returns what it printed
// to stdout
func executeCommand(t *testing.T, mockAuth *MockAuthService, args ...string) (string, error) {
	t.Helper()

	// Create command hierarchy with mocks
	root := NewRootCommand()
	root.SetContainer(di.NewContainerWithServices(mockAuth))

	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	root.Command().SetArgs(args)
	err := root.Command().Execute()

	// Restore stdout and read output
	w.Close()
	os.Stdout = oldStdout
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), err
}
