package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/model"
	"github.com/brinewave/cipherline/internal/registry"
	"github.com/brinewave/cipherline/internal/repo"
)

const testCookieName = "x-access-token"

func newTestServer(t *testing.T) (*fiber.App, *repo.MemRepository, *auth.Verifier) {
	t.Helper()
	r := repo.NewMemRepository()
	verifier := auth.NewVerifier("test-secret", "HS256", testCookieName)
	s := NewServer(r, verifier, registry.New(), zap.NewNop().Sugar(), 5, 10, 20)

	app := fiber.New()
	s.Mount(app.Group("/api/v1"))
	return app, r, verifier
}

func conversationBody(hexes ...string) map[string]any {
	participants := make([]map[string]any, 0, len(hexes))
	for _, hex := range hexes {
		participants = append(participants, map[string]any{"hex": hex})
	}
	return map[string]any{"participants": participants}
}

func authCookie(t *testing.T, verifier *auth.Verifier, hex string) *http.Cookie {
	t.Helper()
	token, err := verifier.Issue(auth.Principal{Hex: hex}, *jwt.NewNumericDate(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	return &http.Cookie{Name: testCookieName, Value: token}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, cookie *http.Cookie) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestAddUserThenRetrieve(t *testing.T) {
	app, _, verifier := newTestServer(t)

	_, created := doRequest(t, app, fiber.MethodPut, "/api/v1/user/add", addUserBody{
		Hex:  "alice",
		Name: "Alice",
	}, nil)
	require.Equal(t, true, created["success"])

	cookie := authCookie(t, verifier, "alice")
	_, retrieved := doRequest(t, app, fiber.MethodGet, "/api/v1/user/retrieve", nil, cookie)
	require.Equal(t, true, retrieved["success"])
	data := retrieved["data"].(map[string]any)
	assert.Equal(t, "Alice", data["name"])
}

func TestRetrieveUserWithoutCookieFails(t *testing.T) {
	app, _, _ := newTestServer(t)
	status, body := doRequest(t, app, fiber.MethodGet, "/api/v1/user/retrieve", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])
}

func TestAddConversationThenAccept(t *testing.T) {
	app, r, verifier := newTestServer(t)
	ctx := context.Background()

	_, err := r.Users().Create(ctx, &model.User{Hex: "alice"})
	require.NoError(t, err)
	_, err = r.Users().Create(ctx, &model.User{Hex: "bob"})
	require.NoError(t, err)

	cookie := authCookie(t, verifier, "alice")
	_, created := doRequest(t, app, fiber.MethodPut, "/api/v1/conversation/add", conversationBody("alice", "bob"), cookie)
	require.Equal(t, true, created["success"])
	conv := created["data"].(map[string]any)
	hex := conv["hex"].(string)

	bobCookie := authCookie(t, verifier, "bob")
	_, accepted := doRequest(t, app, fiber.MethodPatch, "/api/v1/conversation/"+hex+"/accept", nil, bobCookie)
	require.Equal(t, true, accepted["success"])

	updated, err := r.Conversations().FindByHex(ctx, hex)
	require.NoError(t, err)
	assert.Equal(t, model.TrustTrusted, updated.Trust)
}

func TestPinConversationEnforcesMaxPins(t *testing.T) {
	app, r, verifier := newTestServer(t)
	ctx := context.Background()
	_, err := r.Users().Create(ctx, &model.User{Hex: "alice"})
	require.NoError(t, err)

	cookie := authCookie(t, verifier, "alice")

	for i := 0; i < 6; i++ {
		with := "friend" + string(rune('a'+i))
		_, err := r.Users().Create(ctx, &model.User{Hex: with})
		require.NoError(t, err)
		_, created := doRequest(t, app, fiber.MethodPut, "/api/v1/conversation/add", conversationBody("alice", with), cookie)
		conv := created["data"].(map[string]any)
		hex := conv["hex"].(string)
		status, _ := doRequest(t, app, fiber.MethodPatch, "/api/v1/conversation/"+hex+"/pin", nil, cookie)
		if i < 5 {
			assert.Equal(t, fiber.StatusOK, status)
		} else {
			assert.Equal(t, fiber.StatusUnprocessableEntity, status)
		}
	}
}

func TestAddConversationDuplicatePairReturns400(t *testing.T) {
	app, r, verifier := newTestServer(t)
	ctx := context.Background()
	_, err := r.Users().Create(ctx, &model.User{Hex: "alice"})
	require.NoError(t, err)
	_, err = r.Users().Create(ctx, &model.User{Hex: "bob"})
	require.NoError(t, err)
	cookie := authCookie(t, verifier, "alice")

	status, created := doRequest(t, app, fiber.MethodPut, "/api/v1/conversation/add", conversationBody("alice", "bob"), cookie)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, true, created["success"])

	status, body := doRequest(t, app, fiber.MethodPut, "/api/v1/conversation/add", conversationBody("alice", "bob"), cookie)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestOneConversationFetchesExistingPair(t *testing.T) {
	app, r, verifier := newTestServer(t)
	ctx := context.Background()
	_, err := r.Users().Create(ctx, &model.User{Hex: "alice"})
	require.NoError(t, err)
	_, err = r.Users().Create(ctx, &model.User{Hex: "bob"})
	require.NoError(t, err)
	cookie := authCookie(t, verifier, "alice")

	_, created := doRequest(t, app, fiber.MethodPut, "/api/v1/conversation/add", conversationBody("alice", "bob"), cookie)
	require.Equal(t, true, created["success"])
	wantHex := created["data"].(map[string]any)["hex"].(string)

	status, found := doRequest(t, app, fiber.MethodPost, "/api/v1/conversation/one", map[string]any{"other": "bob"}, cookie)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, wantHex, found["data"].(map[string]any)["hex"])
}

func TestEditUserFieldRequiresValue(t *testing.T) {
	app, r, verifier := newTestServer(t)
	ctx := context.Background()
	_, err := r.Users().Create(ctx, &model.User{Hex: "alice"})
	require.NoError(t, err)
	cookie := authCookie(t, verifier, "alice")

	status, body := doRequest(t, app, fiber.MethodPatch, "/api/v1/user/edit/name", map[string]any{}, cookie)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])

	status, body = doRequest(t, app, fiber.MethodPatch, "/api/v1/user/edit/name", map[string]any{"value": "New Name"}, cookie)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
}
