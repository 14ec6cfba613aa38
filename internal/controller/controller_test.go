package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/pkg/serverutils"
	"knowledge-assistant-be/internal/service"
	"knowledge-assistant-be/pkg/ai/pipeline"
	"knowledge-assistant-be/pkg/rag/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newApp(register func(fiber.Router)) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	register(app.Group("/api"))
	return app
}

func request(t *testing.T, app *fiber.App, method, target, token, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

type fakeChatService struct {
	startErr error
	userID   uuid.UUID
	tokens   []string
	fail     bool
}

func (f *fakeChatService) StartTurn(ctx context.Context, userId uuid.UUID, req *dto.ChatRequest) (*service.PendingTurn, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.userID = userId
	return &service.PendingTurn{
		UserId:          userId,
		ConversationId:  uuid.MustParse("6f1c1d1e-7c55-4c1b-9a53-0f0e3c2d9b11"),
		AssistantTurnId: uuid.New(),
		Query:           req.Message,
		Prepared:        &pipeline.PreparedTurn{},
	}, nil
}

func (f *fakeChatService) StreamTurn(ctx context.Context, turn *service.PendingTurn, emitter stream.Emitter) (stream.Outcome, error) {
	for _, tok := range f.tokens {
		if err := emitter.EmitToken(tok); err != nil {
			return stream.Outcome{State: stream.StateCancelled}, err
		}
	}
	if f.fail {
		_ = emitter.EmitTrailer([]byte(stream.ErrorMarker + `{"type":"error"}`))
		return stream.Outcome{State: stream.StateErrored}, assert.AnError
	}
	_ = emitter.EmitTrailer([]byte(stream.SourcesMarker + `{"type":"sources","sources":[],"conversationId":"` + turn.ConversationId.String() + `"}`))
	return stream.Outcome{State: stream.StateDone}, nil
}

func TestChatControllerStream(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("streams tokens then the sources trailer", func(t *testing.T) {
		svc := &fakeChatService{tokens: []string{"Seneca ", "calls anger ", "a brief madness."}}
		app := newApp(NewChatController(svc, logger.NewNopLogger()).RegisterRoutes)

		resp, body := request(t, app, "POST", "/api/chat/v1/stream", token, `{"message":"What does Seneca say about anger?"}`)

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "6f1c1d1e-7c55-4c1b-9a53-0f0e3c2d9b11", resp.Header.Get("X-Conversation-Id"))
		assert.Equal(t, userID, svc.userID)

		answer, trailer, found := strings.Cut(body, stream.SourcesMarker)
		require.True(t, found)
		assert.Equal(t, "Seneca calls anger a brief madness.", answer)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(trailer), &decoded))
		assert.Equal(t, "sources", decoded["type"])
	})

	t.Run("failed stream ends with the error marker", func(t *testing.T) {
		svc := &fakeChatService{tokens: []string{"partial"}, fail: true}
		app := newApp(NewChatController(svc, logger.NewNopLogger()).RegisterRoutes)

		_, body := request(t, app, "POST", "/api/chat/v1/stream", token, `{"message":"hello there"}`)

		assert.True(t, strings.HasPrefix(body, "partial"+stream.ErrorMarker))
		assert.NotContains(t, body, stream.SourcesMarker)
	})

	tests := []struct {
		name  string
		svc   *fakeChatService
		token string
		body  string
		want  int
	}{
		{"missing token", &fakeChatService{}, "", `{"message":"hi"}`, fiber.StatusUnauthorized},
		{"empty message", &fakeChatService{}, token, `{"message":""}`, fiber.StatusBadRequest},
		{"max results out of range", &fakeChatService{}, token, `{"message":"hi","max_results":99}`, fiber.StatusBadRequest},
		{"unknown conversation", &fakeChatService{startErr: service.ErrConversationNotFound}, token, `{"message":"hi"}`, fiber.StatusNotFound},
		{"still starting", &fakeChatService{startErr: service.ErrServiceNotReady}, token, `{"message":"hi"}`, fiber.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(NewChatController(tt.svc, logger.NewNopLogger()).RegisterRoutes)
			resp, _ := request(t, app, "POST", "/api/chat/v1/stream", tt.token, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

type fakeConversationService struct {
	conversations map[uuid.UUID]*dto.ConversationResponse
	owner         uuid.UUID
}

func (f *fakeConversationService) Create(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.ConversationResponse, error) {
	res := &dto.ConversationResponse{Id: uuid.New(), Title: req.Title, Topics: []string{}}
	f.conversations[res.Id] = res
	return res, nil
}

func (f *fakeConversationService) List(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error) {
	out := []*dto.ConversationResponse{}
	if userId != f.owner {
		return out, nil
	}
	for _, c := range f.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeConversationService) Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.ConversationDetailResponse, error) {
	c, ok := f.conversations[id]
	if !ok || userId != f.owner {
		return nil, service.ErrConversationNotFound
	}
	return &dto.ConversationDetailResponse{ConversationResponse: *c, Messages: []dto.MessageResponse{}}, nil
}

func (f *fakeConversationService) Rename(ctx context.Context, userId uuid.UUID, req *dto.UpdateConversationRequest) (*dto.ConversationResponse, error) {
	c, ok := f.conversations[req.Id]
	if !ok {
		return nil, service.ErrConversationNotFound
	}
	c.Title = req.Title
	return c, nil
}

func (f *fakeConversationService) Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error {
	if _, ok := f.conversations[id]; !ok {
		return service.ErrConversationNotFound
	}
	delete(f.conversations, id)
	return nil
}

func TestConversationController(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	owner := uuid.New()
	token := signToken(t, owner)

	svc := &fakeConversationService{conversations: map[uuid.UUID]*dto.ConversationResponse{}, owner: owner}
	app := newApp(NewConversationController(svc).RegisterRoutes)

	resp, body := request(t, app, "POST", "/api/conversation/v1", token, `{"title":"Stoicism"}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created serverutils.Response[dto.ConversationResponse]
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "Stoicism", created.Data.Title)

	t.Run("show", func(t *testing.T) {
		resp, _ := request(t, app, "GET", "/api/conversation/v1/"+created.Data.Id.String(), token, "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("rename validates title", func(t *testing.T) {
		resp, body := request(t, app, "PUT", "/api/conversation/v1/"+created.Data.Id.String(), token, `{"title":""}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body, "Title")
	})

	t.Run("bad id", func(t *testing.T) {
		resp, _ := request(t, app, "GET", "/api/conversation/v1/not-a-uuid", token, "")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("foreign user gets not found", func(t *testing.T) {
		resp, body := request(t, app, "GET", "/api/conversation/v1/"+created.Data.Id.String(), signToken(t, uuid.New()), "")
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

		var envelope serverutils.Response[any]
		require.NoError(t, json.Unmarshal([]byte(body), &envelope))
		assert.False(t, envelope.Success)
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := request(t, app, "DELETE", "/api/conversation/v1/"+created.Data.Id.String(), token, "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, _ = request(t, app, "DELETE", "/api/conversation/v1/"+created.Data.Id.String(), token, "")
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}
