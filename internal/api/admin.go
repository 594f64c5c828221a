package api

import (
	"net/http"
	"strconv"

	"gianconstruction/internal/api/auth"
	"gianconstruction/internal/model"
	"gianconstruction/internal/pkg/metrics"
	"gianconstruction/internal/store"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 100

type accountResponse struct {
	AccountID     string     `json:"account_id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          model.Role `json:"role"`
	ContactNumber string     `json:"contact_number"`
	Gender        string     `json:"gender,omitempty"`
	Address       string     `json:"address,omitempty"`
	IsActive      bool       `json:"is_active"`
	Pending       bool       `json:"pending_registration"`
	CreatedAt     string     `json:"created_at"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		AccountID:     a.AccountID,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Role:          a.Role,
		ContactNumber: a.ContactNumber,
		Gender:        a.Gender,
		Address:       a.Address,
		IsActive:      a.IsActive,
		Pending:       a.PendingRegistration,
		CreatedAt:     a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

type updateAccountRequest struct {
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	ContactNumber *string `json:"contact_number"`
	Gender        *string `json:"gender"`
	Address       *string `json:"address"`
	Role          *string `json:"role"`
}

type setActiveRequest struct {
	Active *bool `json:"is_active" binding:"required"`
}

type createEmployeeRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	FirstName     string `json:"first_name" binding:"required"`
	LastName      string `json:"last_name" binding:"required"`
	ContactNumber string `json:"contact_number" binding:"required"`
	Gender        string `json:"gender"`
	Address       string `json:"address"`
}

// handleListAccounts 后台账户列表，支持 role / active / limit 过滤。
func (s *Server) handleListAccounts(c *gin.Context) {
	filter := store.AccountFilter{Limit: parseQueryInt(c, "limit", defaultListLimit)}
	if v := c.Query("role"); v != "" {
		role, ok := model.ParseRole(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		filter.Role = role
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active flag"})
			return
		}
		filter.Active = &active
	}

	accounts, err := s.accounts.List(c.Request.Context(), filter)
	if err != nil {
		auth.WriteError(c, err)
		return
	}
	resp := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, toAccountResponse(&accounts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": resp})
}

// handleUpdateAccount 修改资料，写审计日志。
func (s *Server) handleUpdateAccount(c *gin.Context) {
	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	upd := model.ProfileUpdate{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		ContactNumber: req.ContactNumber,
		Gender:        req.Gender,
		Address:       req.Address,
	}
	if req.Role != nil {
		role, ok := model.ParseRole(*req.Role)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		upd.Role = &role
	}

	acc, err := s.accounts.UpdateProfile(c.Request.Context(), actorFrom(c), c.Param("id"), upd)
	if err != nil {
		auth.WriteError(c, err)
		return
	}
	metrics.AdminActionsTotal.WithLabelValues("update_profile").Inc()
	c.JSON(http.StatusOK, gin.H{"account": toAccountResponse(acc)})
}

// handleSetActive 启用 / 停用账户，写审计日志。
func (s *Server) handleSetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}
	acc, err := s.accounts.SetActive(c.Request.Context(), actorFrom(c), c.Param("id"), *req.Active)
	if err != nil {
		auth.WriteError(c, err)
		return
	}
	action := "deactivate"
	if acc.IsActive {
		action = "activate"
	}
	metrics.AdminActionsTotal.WithLabelValues(action).Inc()
	c.JSON(http.StatusOK, gin.H{"account": toAccountResponse(acc)})
}

// handleCreateEmployee 直接创建已激活的员工账户。
func (s *Server) handleCreateEmployee(c *gin.Context) {
	var req createEmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password, first_name, last_name and contact_number are required"})
		return
	}
	acc, err := s.accounts.CreateEmployee(c.Request.Context(), actorFrom(c), model.Profile{
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		ContactNumber: req.ContactNumber,
		Gender:        req.Gender,
		Address:       req.Address,
	}, req.Password)
	if err != nil {
		auth.WriteError(c, err)
		return
	}
	metrics.AdminActionsTotal.WithLabelValues("create_employee").Inc()
	c.JSON(http.StatusCreated, gin.H{"account": toAccountResponse(acc)})
}

// handleListLogs 最近的审计日志，新的在前。
func (s *Server) handleListLogs(c *gin.Context) {
	logs, err := s.accounts.Logs(c.Request.Context(), parseQueryInt(c, "limit", defaultListLimit))
	if err != nil {
		auth.WriteError(c, err)
		return
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func actorFrom(c *gin.Context) model.Actor {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return model.Actor{}
	}
	return claims.Actor()
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil || iv <= 0 {
		return def
	}
	return iv
}
