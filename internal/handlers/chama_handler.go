package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chama-wallet-service/internal/services"
	"chama-wallet-service/pkg/common"

	"github.com/gin-gonic/gin"
)

type ChamaHandler struct {
	Chama *services.ChamaService
}

func NewChamaHandler(chama *services.ChamaService) *ChamaHandler {
	return &ChamaHandler{Chama: chama}
}

type startCollectionRequest struct {
	MemberIds    []uint `json:"member_ids"`
	ExcludeAdmin bool   `json:"exclude_admin"`
}

// StartCollection begins a new collection cycle for the group. Only
// the group admin may call it; a still-running cycle is a conflict.
func (h *ChamaHandler) StartCollection(c *gin.Context) {
	groupId, err := strconv.ParseUint(c.Param("groupId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("invalid group id", nil, http.StatusBadRequest))
		return
	}

	userId := callerUserId(c)
	if userId == 0 {
		c.JSON(http.StatusForbidden, common.NewErrorResponse("collections must be started by a user", nil, http.StatusForbidden))
		return
	}

	var req startCollectionRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.Chama.StartCollection(c.Request.Context(), services.StartCollectionInput{
		GroupId:      uint(groupId),
		RequestedBy:  userId,
		MemberIds:    req.MemberIds,
		ExcludeAdmin: req.ExcludeAdmin,
	})
	if err != nil {
		var active services.ErrCycleActive
		switch {
		case errors.As(err, &active):
			c.JSON(http.StatusConflict, common.NewErrorResponse(active.Error(), gin.H{"cycle_id": active.CycleId}, http.StatusConflict))
		case errors.Is(err, services.ErrGroupNotFound):
			c.JSON(http.StatusNotFound, common.NewErrorResponse(err.Error(), nil, http.StatusNotFound))
		case errors.Is(err, services.ErrNotAdmin):
			c.JSON(http.StatusForbidden, common.NewErrorResponse(err.Error(), nil, http.StatusForbidden))
		case errors.Is(err, services.ErrNoEligibleMembers):
			c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		default:
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse("failed to start collection", nil, http.StatusInternalServerError))
		}
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(result, "collection started"))
}
