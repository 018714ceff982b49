package giftcards

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/glowdesk/pkg/middleware"
)

func setupRouter(repo RepositoryInterface, actorID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, actorID)
		c.Next()
	})

	service := NewService(repo, nil, WithClock(fixedClock(testNow)))
	NewHandler(service).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_IssueCard(t *testing.T) {
	actorID := uuid.New()

	t.Run("valid request returns 201", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		repo.On("CodeExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
		repo.On("CreateCard", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards", gin.H{
			"initial_value": "100",
			"currency":      "USD",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("zero value returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards", gin.H{
			"initial_value": "0",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "CreateCard")
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/giftcards", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_RedeemCard(t *testing.T) {
	actorID := uuid.New()

	t.Run("successful redemption returns the updated card", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		card := activeCard("100")
		updated := *card
		updated.CurrentBalance = dec("60")
		entry := &Transaction{Type: TransactionTypeRedemption, Amount: dec("-40"), BalanceAfter: dec("60")}

		repo.On("GetCardByCode", mock.Anything, card.Code).Return(card, nil).Once()
		repo.On("ApplyTransaction", mock.Anything, card.ID, mock.Anything).Return(&updated, entry, nil).Once()

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards/redeem", gin.H{
			"code":   card.Code,
			"amount": "40",
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"current_balance":"60"`)
	})

	t.Run("unknown code returns 404", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		repo.On("GetCardByCode", mock.Anything, "ZZZZ-ZZZZ-ZZZZ").Return(nil, ErrCardNotFound).Once()

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards/redeem", gin.H{
			"code":   "ZZZZ-ZZZZ-ZZZZ",
			"amount": "10",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("insufficient balance returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		card := activeCard("5")
		repo.On("GetCardByCode", mock.Anything, card.Code).Return(card, nil).Once()

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards/redeem", gin.H{
			"code":   card.Code,
			"amount": "10",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_GetCard(t *testing.T) {
	actorID := uuid.New()

	t.Run("invalid UUID returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		w := performJSON(router, http.MethodGet, "/api/v1/giftcards/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing card returns 404", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		id := uuid.New()
		repo.On("GetCardByID", mock.Anything, id).Return(nil, ErrCardNotFound).Once()

		w := performJSON(router, http.MethodGet, "/api/v1/giftcards/"+id.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_CancelCard(t *testing.T) {
	actorID := uuid.New()

	t.Run("missing reason returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		w := performJSON(router, http.MethodPost, fmt.Sprintf("/api/v1/giftcards/%s/cancel", uuid.New()), gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "CancelCard")
	})

	t.Run("spent card returns 409", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		id := uuid.New()
		repo.On("CancelCard", mock.Anything, id).Return(nil, ErrStateConflict).Once()

		w := performJSON(router, http.MethodPost, fmt.Sprintf("/api/v1/giftcards/%s/cancel", id), gin.H{
			"reason": "customer request",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandler_ValidateCode(t *testing.T) {
	actorID := uuid.New()

	t.Run("invalid code is 200 with valid=false", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		repo.On("GetCardByCode", mock.Anything, "ZZZZ-ZZZZ-ZZZZ").Return(nil, ErrCardNotFound).Once()

		w := performJSON(router, http.MethodPost, "/api/v1/giftcards/validate", gin.H{
			"code": "ZZZZ-ZZZZ-ZZZZ",
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"valid":false`)
	})
}

func TestHandler_ListCards(t *testing.T) {
	actorID := uuid.New()

	t.Run("passes filters and pagination through", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		status := CardStatusActive
		repo.On("ListCards", mock.Anything, mock.MatchedBy(func(f ListFilter) bool {
			return f.Status != nil && *f.Status == status
		}), 10, 20).Return([]GiftCard{*activeCard("50")}, int64(1), nil).Once()

		w := performJSON(router, http.MethodGet, "/api/v1/giftcards?status=active&limit=10&offset=20", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"total":1`)
		repo.AssertExpectations(t)
	})

	t.Run("bad recipient filter returns 400", func(t *testing.T) {
		repo := new(mockRepository)
		router := setupRouter(repo, actorID)

		w := performJSON(router, http.MethodGet, "/api/v1/giftcards?recipient_id=oops", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
