package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
)

type prepareIntentRequest struct {
	DomainName string     `json:"domainName"`
	SetPrimary bool       `json:"setPrimary"`
	CommitBy   *time.Time `json:"commitBy"`
	RegisterBy *time.Time `json:"registerBy"`
}

type attachTxRequest struct {
	TxHash string `json:"txHash"`
}

func (s *Server) PrepareIntent(c *gin.Context) {
	var req prepareIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	intent, err := s.intents.Prepare(c.Request.Context(), intentdomain.PrepareRequest{
		OwnerID:    userIDFrom(c),
		DomainName: req.DomainName,
		SetPrimary: req.SetPrimary,
		CommitBy:   req.CommitBy,
		RegisterBy: req.RegisterBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("intent_id", intent.ID)
	c.JSON(http.StatusCreated, gin.H{"data": intent})
}

func (s *Server) ListIntents(c *gin.Context) {
	pageSize, err := parsePageSize(c.Query("pageSize"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.intents.List(c.Request.Context(), intentdomain.ListIntentRequest{
		OwnerID:   userIDFrom(c),
		Status:    intentdomain.Status(strings.TrimSpace(c.Query("status"))),
		PageToken: c.Query("pageToken"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetIntent(c *gin.Context) {
	intent, ok := s.ownedIntent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) AttachCommitTx(c *gin.Context) {
	s.attachTx(c, s.intents.AttachCommitTx)
}

func (s *Server) AttachRegisterTx(c *gin.Context) {
	s.attachTx(c, s.intents.AttachRegisterTx)
}

type attachFunc func(ctx context.Context, id, txHash string) (intentdomain.Intent, error)

// attachTx records a submitted tx hash on an intent the caller owns.
func (s *Server) attachTx(c *gin.Context, attach attachFunc) {
	var req attachTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	current, ok := s.ownedIntent(c)
	if !ok {
		return
	}

	intent, err := attach(c.Request.Context(), current.ID, req.TxHash)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": intent})
}

// ownedIntent loads the :id intent and hides intents of other owners behind
// the same not-found answer.
func (s *Server) ownedIntent(c *gin.Context) (intentdomain.Intent, bool) {
	intent, err := s.intents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return intentdomain.Intent{}, false
	}
	if intent.OwnerID != userIDFrom(c) {
		AbortWithError(c, intentdomain.ErrNotFound)
		return intentdomain.Intent{}, false
	}
	c.Set("intent_id", intent.ID)
	return intent, true
}
