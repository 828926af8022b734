package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/service"
	"github.com/kursadbilgin/newswire-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec-test"

var errNotImplemented = errors.New("not implemented")

type stubAccountService struct {
	createUserFn      func(ctx context.Context, email, timezone string) (*domain.User, error)
	getUserFn         func(ctx context.Context, id string) (*domain.User, error)
	applyTierChangeFn func(ctx context.Context, change domain.TierChange, source string) (bool, error)
}

func (s *stubAccountService) CreateUser(ctx context.Context, email, timezone string) (*domain.User, error) {
	if s.createUserFn != nil {
		return s.createUserFn(ctx, email, timezone)
	}
	return nil, errNotImplemented
}

func (s *stubAccountService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if s.getUserFn != nil {
		return s.getUserFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubAccountService) ApplyTierChange(ctx context.Context, change domain.TierChange, source string) (bool, error) {
	if s.applyTierChangeFn != nil {
		return s.applyTierChangeFn(ctx, change, source)
	}
	return false, errNotImplemented
}

type stubTopicService struct {
	createFn func(ctx context.Context, ownerID string, in service.CreateTopicInput) (*domain.Topic, error)
	listFn   func(ctx context.Context, ownerID string) ([]domain.Topic, error)
	deleteFn func(ctx context.Context, ownerID, topicID string) error
}

func (s *stubTopicService) Create(ctx context.Context, ownerID string, in service.CreateTopicInput) (*domain.Topic, error) {
	if s.createFn != nil {
		return s.createFn(ctx, ownerID, in)
	}
	return nil, errNotImplemented
}

func (s *stubTopicService) List(ctx context.Context, ownerID string) ([]domain.Topic, error) {
	if s.listFn != nil {
		return s.listFn(ctx, ownerID)
	}
	return nil, errNotImplemented
}

func (s *stubTopicService) Delete(ctx context.Context, ownerID, topicID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, ownerID, topicID)
	}
	return errNotImplemented
}

type stubPhoneService struct {
	registerFn   func(ctx context.Context, ownerID, rawPhone string) (*service.Registration, error)
	submitCodeFn func(ctx context.Context, ownerID, phoneID, code string) (*domain.PhoneNumber, error)
	resendCodeFn func(ctx context.Context, ownerID, phoneID string) (*service.Registration, error)
	revokeFn     func(ctx context.Context, ownerID, phoneID string) error
	listFn       func(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error)
}

func (s *stubPhoneService) Register(ctx context.Context, ownerID, rawPhone string) (*service.Registration, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, ownerID, rawPhone)
	}
	return nil, errNotImplemented
}

func (s *stubPhoneService) SubmitCode(ctx context.Context, ownerID, phoneID, code string) (*domain.PhoneNumber, error) {
	if s.submitCodeFn != nil {
		return s.submitCodeFn(ctx, ownerID, phoneID, code)
	}
	return nil, errNotImplemented
}

func (s *stubPhoneService) ResendCode(ctx context.Context, ownerID, phoneID string) (*service.Registration, error) {
	if s.resendCodeFn != nil {
		return s.resendCodeFn(ctx, ownerID, phoneID)
	}
	return nil, errNotImplemented
}

func (s *stubPhoneService) Revoke(ctx context.Context, ownerID, phoneID string) error {
	if s.revokeFn != nil {
		return s.revokeFn(ctx, ownerID, phoneID)
	}
	return errNotImplemented
}

func (s *stubPhoneService) List(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	if s.listFn != nil {
		return s.listFn(ctx, ownerID)
	}
	return nil, errNotImplemented
}

type stubScheduleService struct {
	createFn     func(ctx context.Context, ownerID string, in service.CreateScheduleInput) (*domain.Schedule, error)
	listFn       func(ctx context.Context, ownerID string) ([]domain.Schedule, error)
	getFn        func(ctx context.Context, ownerID, scheduleID string) (*domain.Schedule, error)
	patchFn      func(ctx context.Context, ownerID, scheduleID string, in service.PatchScheduleInput) (*domain.Schedule, error)
	listRunsFn   func(ctx context.Context, ownerID, scheduleID string, limit int) ([]domain.DeliveryRun, error)
	triggerNowFn func(ctx context.Context, ownerID, scheduleID string) (*domain.DeliveryRun, error)
}

func (s *stubScheduleService) Create(ctx context.Context, ownerID string, in service.CreateScheduleInput) (*domain.Schedule, error) {
	if s.createFn != nil {
		return s.createFn(ctx, ownerID, in)
	}
	return nil, errNotImplemented
}

func (s *stubScheduleService) List(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	if s.listFn != nil {
		return s.listFn(ctx, ownerID)
	}
	return nil, errNotImplemented
}

func (s *stubScheduleService) Get(ctx context.Context, ownerID, scheduleID string) (*domain.Schedule, error) {
	if s.getFn != nil {
		return s.getFn(ctx, ownerID, scheduleID)
	}
	return nil, errNotImplemented
}

func (s *stubScheduleService) Patch(ctx context.Context, ownerID, scheduleID string, in service.PatchScheduleInput) (*domain.Schedule, error) {
	if s.patchFn != nil {
		return s.patchFn(ctx, ownerID, scheduleID, in)
	}
	return nil, errNotImplemented
}

func (s *stubScheduleService) ListRuns(ctx context.Context, ownerID, scheduleID string, limit int) ([]domain.DeliveryRun, error) {
	if s.listRunsFn != nil {
		return s.listRunsFn(ctx, ownerID, scheduleID, limit)
	}
	return nil, errNotImplemented
}

func (s *stubScheduleService) TriggerNow(ctx context.Context, ownerID, scheduleID string) (*domain.DeliveryRun, error) {
	if s.triggerNowFn != nil {
		return s.triggerNowFn(ctx, ownerID, scheduleID)
	}
	return nil, errNotImplemented
}

// newTestApp wires stubs into the real routes; nil services get empty stubs.
func newTestApp(t *testing.T, services Services) *fiber.App {
	t.Helper()

	if services.Accounts == nil {
		services.Accounts = &stubAccountService{}
	}
	if services.Topics == nil {
		services.Topics = &stubTopicService{}
	}
	if services.Phones == nil {
		services.Phones = &stubPhoneService{}
	}
	if services.Schedules == nil {
		services.Schedules = &stubScheduleService{}
	}

	app := newBareApp()
	if err := RegisterRoutes(app, services, testWebhookSecret); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	return app
}

func newBareApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func asUser(id string) map[string]string {
	return map[string]string{UserIDHeader: id}
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errNotImplemented }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errNotImplemented }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
