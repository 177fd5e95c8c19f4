package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/dao"
)

type registerRequest struct {
	Username    string  `json:"username" binding:"required"`
	Email       string  `json:"email" binding:"required"`
	Password    string  `json:"password" binding:"required"`
	FirstName   string  `json:"first_name" binding:"required"`
	LastName    string  `json:"last_name" binding:"required"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"` // RFC3339 date
}

// handleRegister implements POST /auth/register.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.KindValidationError, err.Error()))
		return
	}

	in := dao.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			respondError(c, apperrors.New(apperrors.KindValidationError, "date_of_birth must be YYYY-MM-DD"))
			return
		}
		in.DateOfBirth = &dob
	}

	user, err := s.users.Register(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user.Sanitized())
}

// handleGetMe implements GET /auth/me.
func (s *Server) handleGetMe(c *gin.Context) {
	rc := requestContext(c)
	user, err := s.users.GetByUsername(c.Request.Context(), rc.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Sanitized())
}

type updateMeRequest struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
}

// handleUpdateMe implements PUT /auth/me. Username, email, password,
// and role cannot be changed through this endpoint.
func (s *Server) handleUpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.KindValidationError, err.Error()))
		return
	}

	upd := dao.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			respondError(c, apperrors.New(apperrors.KindValidationError, "date_of_birth must be YYYY-MM-DD"))
			return
		}
		upd.DateOfBirth = &dob
	}

	rc := requestContext(c)
	user, err := s.users.UpdateProfile(c.Request.Context(), rc.Username, upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Sanitized())
}
